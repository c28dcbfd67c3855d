package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/harentsoaR/medlab-api/internal/models"
)

const (
	appointmentsCollection = "appointments"
	labTestsCollection     = "labtests"
	usersCollection        = "users"
)

// Mongo bundles the collection-backed stores for one database.
type Mongo struct {
	Appointments *MongoAppointments
	LabTests     *MongoLabTests
	Users        *MongoUsers
	db           *mongo.Database
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{
		Appointments: &MongoAppointments{coll: db.Collection(appointmentsCollection)},
		LabTests:     &MongoLabTests{coll: db.Collection(labTestsCollection)},
		Users:        &MongoUsers{coll: db.Collection(usersCollection)},
		db:           db,
	}
}

// EnsureIndexes creates the indexes the list queries rely on, plus the unique
// email index that makes registration reject duplicates.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		appointmentsCollection: {
			{Keys: bson.D{{Key: "doctorId", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "patientId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		labTestsCollection: {
			{Keys: bson.D{{Key: "labId", Value: 1}, {Key: "requestedAt", Value: -1}}},
			{Keys: bson.D{{Key: "patientId", Value: 1}}},
		},
		usersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for name, idx := range specs {
		if _, err := m.db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("creating indexes on %s: %w", name, err)
		}
	}
	return nil
}

func sortDoc(sort []Sort) bson.D {
	d := bson.D{}
	for _, s := range sort {
		dir := 1
		if s.Desc {
			dir = -1
		}
		d = append(d, bson.E{Key: s.Field, Value: dir})
	}
	return d
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter bson.M) (*T, error) {
	var out T
	err := coll.FindOne(ctx, filter).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func findMany[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, sort []Sort) ([]*T, error) {
	opts := options.Find()
	if len(sort) > 0 {
		opts.SetSort(sortDoc(sort))
	}
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make([]*T, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func replaceByID(ctx context.Context, coll *mongo.Collection, id primitive.ObjectID, doc any) error {
	res, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

type MongoAppointments struct {
	coll *mongo.Collection
}

func (s *MongoAppointments) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Appointment, error) {
	return findOne[models.Appointment](ctx, s.coll, bson.M{"_id": id})
}

func (s *MongoAppointments) Insert(ctx context.Context, a *models.Appointment) error {
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	_, err := s.coll.InsertOne(ctx, a)
	return err
}

func (s *MongoAppointments) Save(ctx context.Context, a *models.Appointment) error {
	return replaceByID(ctx, s.coll, a.ID, a)
}

func (s *MongoAppointments) Find(ctx context.Context, f AppointmentFilter, sort ...Sort) ([]*models.Appointment, error) {
	filter := bson.M{}
	if !f.DoctorID.IsZero() {
		filter["doctorId"] = f.DoctorID
	}
	if !f.PatientID.IsZero() {
		filter["patientId"] = f.PatientID
	}
	switch {
	case f.Status != "":
		filter["status"] = f.Status
	case f.StatusFold != "":
		filter["status"] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(f.StatusFold) + "$", Options: "i"}
	case len(f.StatusIn) > 0:
		filter["status"] = bson.M{"$in": f.StatusIn}
	}
	return findMany[models.Appointment](ctx, s.coll, filter, sort)
}

type MongoLabTests struct {
	coll *mongo.Collection
}

func (s *MongoLabTests) FindByID(ctx context.Context, id primitive.ObjectID) (*models.LabTestRequest, error) {
	return findOne[models.LabTestRequest](ctx, s.coll, bson.M{"_id": id})
}

func (s *MongoLabTests) Insert(ctx context.Context, t *models.LabTestRequest) error {
	if t.ID.IsZero() {
		t.ID = primitive.NewObjectID()
	}
	_, err := s.coll.InsertOne(ctx, t)
	return err
}

func (s *MongoLabTests) Save(ctx context.Context, t *models.LabTestRequest) error {
	return replaceByID(ctx, s.coll, t.ID, t)
}

func (s *MongoLabTests) Find(ctx context.Context, f LabTestFilter, sort ...Sort) ([]*models.LabTestRequest, error) {
	filter := bson.M{}
	if !f.PatientID.IsZero() {
		filter["patientId"] = f.PatientID
	}
	if !f.LabID.IsZero() {
		filter["labId"] = f.LabID
	}
	return findMany[models.LabTestRequest](ctx, s.coll, filter, sort)
}

type MongoUsers struct {
	coll *mongo.Collection
}

func (s *MongoUsers) FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return findOne[models.User](ctx, s.coll, bson.M{"_id": id})
}

func (s *MongoUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return findOne[models.User](ctx, s.coll, bson.M{"email": email})
}

func (s *MongoUsers) FindByRole(ctx context.Context, role models.Role) ([]*models.User, error) {
	return findMany[models.User](ctx, s.coll, bson.M{"role": role}, []Sort{Asc("fullName")})
}

func (s *MongoUsers) Insert(ctx context.Context, u *models.User) error {
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	_, err := s.coll.InsertOne(ctx, u)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}
