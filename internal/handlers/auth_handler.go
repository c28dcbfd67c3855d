package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/harentsoaR/medlab-api/internal/models"
	"github.com/harentsoaR/medlab-api/internal/store"
	"github.com/harentsoaR/medlab-api/internal/utils"
)

type RegisterUserRequest struct {
	FullName string `json:"fullName" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"omitempty,oneof=patient doctor lab"`
	Phone    string `json:"phone" binding:"required"`
	// Tests lists the catalog a lab offers; ignored for other roles.
	Tests []string `json:"tests"`
}

func (h *Handler) RegisterUser(c *gin.Context) {
	var req RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		h.Log.Error("hashing password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	role := models.Role(req.Role)
	if role == "" {
		role = models.RolePatient
	}
	user := models.User{
		FullName: strings.TrimSpace(req.FullName),
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Password: hashedPassword,
		Role:     role,
		Phone:    req.Phone,
	}
	if role == models.RoleLab {
		user.Tests = req.Tests
	}

	if err := h.Users.Insert(c.Request.Context(), &user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "An account with this email already exists"})
			return
		}
		h.Log.Error("inserting user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}
	h.Log.Info("user registered", zap.String("user_id", user.ID.Hex()), zap.String("role", string(user.Role)))

	c.JSON(http.StatusCreated, user)
}

func (h *Handler) Login(c *gin.Context) {
	var loginReq struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&loginReq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	user, err := h.Users.FindByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(loginReq.Email)))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.Log.Error("looking up user", zap.Error(err))
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if !utils.CheckPasswordHash(loginReq.Password, user.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := h.Tokens.Generate(user.ID.Hex(), string(user.Role))
	if err != nil {
		h.Log.Error("signing token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// GetCurrentUser returns the profile of the authenticated caller.
func (h *Handler) GetCurrentUser(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id, err := primitive.ObjectIDFromHex(who.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	user, err := h.Users.FindByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.Log.Error("loading current user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, user)
}
