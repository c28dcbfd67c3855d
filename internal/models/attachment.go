package models

// Attachment is an opaque file stored inline on its owning record.
// The bytes are never serialized to JSON; they are served by the report and
// result endpoints instead.
type Attachment struct {
	Data        []byte `bson:"data" json:"-"`
	ContentType string `bson:"contentType" json:"contentType"`
	Filename    string `bson:"filename,omitempty" json:"filename,omitempty"`
}

func (a *Attachment) IsEmpty() bool {
	return a == nil || len(a.Data) == 0
}
