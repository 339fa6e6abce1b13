// Package documents keeps patient paperwork: scanned results, consent forms,
// insurance cards. Contents live in the object store, metadata in Postgres.
package documents

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeMedical        Type = "medical"
	TypeLab            Type = "lab"
	TypeImaging        Type = "imaging"
	TypeConsent        Type = "consent"
	TypeInsurance      Type = "insurance"
	TypeIdentification Type = "identification"
)

func (t Type) Valid() bool {
	switch t {
	case TypeMedical, TypeLab, TypeImaging, TypeConsent, TypeInsurance, TypeIdentification:
		return true
	}
	return false
}

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

type Document struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Type          Type      `json:"type"`
	PatientID     string    `json:"patient_id"`
	PatientName   string    `json:"patient_name,omitempty"`
	Description   string    `json:"description,omitempty"`
	UploadedBy    string    `json:"uploaded_by"`
	UploadDate    time.Time `json:"upload_date"`
	FileName      string    `json:"file_name"`
	FileType      string    `json:"file_type"`
	FileSize      int64     `json:"file_size"`
	Tags          []string  `json:"tags"`
	StorageKey    string    `json:"-"`
	SHA256        string    `json:"sha256"`
	Status        Status    `json:"status"`
	BranchID      int       `json:"branch_id"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Upload is the metadata sent with a file.
type Upload struct {
	Name        string
	Type        Type
	PatientID   string
	PatientName string
	Description string
	UploadedBy  string
	FileName    string
	ContentType string
	Size        int64
	Tags        []string
}

type Filter struct {
	Type      Type
	PatientID string
	Status    Status
	Tag       string
	Search    string
}

// Update changes a document's descriptive fields. The file itself is
// immutable; upload a new document to replace it.
type Update struct {
	Name        *string   `json:"name"`
	Type        *Type     `json:"type"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
}
