package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bristolpark/hmis/internal/platform/blobstore"
	"github.com/bristolpark/hmis/internal/platform/db"
	"github.com/bristolpark/hmis/internal/platform/websocket"
)

const (
	keyPrefix = "documents"
	urlExpiry = 15 * time.Minute

	EventDocumentUploaded = "document.uploaded"
	EventDocumentDeleted  = "document.deleted"
)

var ErrArchived = errors.New("document is archived")

type Service struct {
	repo      Repository
	store     blobstore.ObjectStore
	publisher websocket.EventPublisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, store blobstore.ObjectStore) *Service {
	return &Service{
		repo:      repo,
		store:     store,
		publisher: websocket.NopPublisher{},
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
}

func (s *Service) SetPublisher(p websocket.EventPublisher) { s.publisher = p }
func (s *Service) SetLogger(l zerolog.Logger)              { s.logger = l }

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// UploadDocument stores content and records its metadata. If the metadata
// cannot be saved the stored object is removed again.
func (s *Service) UploadDocument(ctx context.Context, in Upload, content io.Reader) (*Document, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("invalid document type: %s", in.Type)
	}
	if strings.TrimSpace(in.Name) == "" {
		in.Name = in.FileName
	}
	if err := blobstore.ValidateUpload(in.FileName, in.ContentType, in.Size); err != nil {
		return nil, err
	}

	d := &Document{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(in.Name),
		Type:        in.Type,
		PatientID:   in.PatientID,
		PatientName: in.PatientName,
		Description: in.Description,
		UploadedBy:  in.UploadedBy,
		UploadDate:  s.now(),
		FileName:    in.FileName,
		FileType:    blobstore.BaseContentType(in.ContentType),
		Tags:        cleanTags(in.Tags),
		Status:      StatusActive,
		BranchID:    db.BranchFromContext(ctx),
	}
	d.StorageKey = blobstore.ObjectKey(keyPrefix, in.PatientID, d.ID.String(), in.FileName)

	info, err := s.store.Put(ctx, d.StorageKey, content, in.Size, d.FileType)
	if err != nil {
		return nil, fmt.Errorf("storing %s: %w", in.FileName, err)
	}
	d.FileSize = info.Size
	d.SHA256 = info.SHA256

	if err := s.repo.Create(ctx, d); err != nil {
		if rmErr := s.store.Remove(ctx, d.StorageKey); rmErr != nil {
			s.logger.Warn().Err(rmErr).Str("key", d.StorageKey).Msg("failed to remove orphaned document object")
		}
		return nil, err
	}
	s.publisher.Publish(ctx, websocket.NewEvent(EventDocumentUploaded, websocket.TopicDocuments, "Document", d.ID.String(), map[string]interface{}{
		"patient_id": d.PatientID,
		"type":       d.Type,
		"name":       d.Name,
	}))
	return d, nil
}

func (s *Service) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	return s.repo.GetByID(ctx, id)
}

// DownloadDocument opens the stored contents. The caller closes the reader.
func (s *Service) DownloadDocument(ctx context.Context, id uuid.UUID) (*Document, io.ReadCloser, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, _, err := s.store.Get(ctx, d.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return d, rc, nil
}

// DocumentURL returns a presigned link valid for 15 minutes.
func (s *Service) DocumentURL(ctx context.Context, id uuid.UUID) (string, time.Time, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", time.Time{}, err
	}
	url, err := s.store.PresignedURL(ctx, d.StorageKey, urlExpiry)
	if err != nil {
		return "", time.Time{}, err
	}
	return url, s.now().Add(urlExpiry), nil
}

func (s *Service) ListDocuments(ctx context.Context, f Filter, limit, offset int) ([]*Document, int, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, fmt.Errorf("invalid document type: %s", f.Type)
	}
	if f.Status != "" && f.Status != StatusActive && f.Status != StatusArchived {
		return nil, 0, fmt.Errorf("invalid status: %s", f.Status)
	}
	f.Tag = strings.ToLower(strings.TrimSpace(f.Tag))
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) UpdateDocument(ctx context.Context, id uuid.UUID, upd Update) (*Document, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusArchived {
		return nil, ErrArchived
	}
	if upd.Name != nil {
		if strings.TrimSpace(*upd.Name) == "" {
			return nil, fmt.Errorf("name cannot be empty")
		}
		d.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Type != nil {
		if !upd.Type.Valid() {
			return nil, fmt.Errorf("invalid document type: %s", *upd.Type)
		}
		d.Type = *upd.Type
	}
	if upd.Description != nil {
		d.Description = *upd.Description
	}
	if upd.Tags != nil {
		d.Tags = cleanTags(*upd.Tags)
	}
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) setStatus(ctx context.Context, id uuid.UUID, to Status) (*Document, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == to {
		return d, nil
	}
	from := d.Status
	d.Status = to
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, websocket.NewStatusChangedEvent(websocket.TopicDocuments, "Document",
		d.ID.String(), string(from), string(to), map[string]string{"patient_id": d.PatientID}))
	return d, nil
}

// ArchiveDocument hides a document from the default listing. Archiving an
// archived document is a no-op.
func (s *Service) ArchiveDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	return s.setStatus(ctx, id, StatusArchived)
}

func (s *Service) RestoreDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	return s.setStatus(ctx, id, StatusActive)
}

// DeleteDocument removes the object and then the metadata. An object that is
// already gone does not block removing the record.
func (s *Service) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Remove(ctx, d.StorageKey); err != nil {
		if !errors.Is(err, blobstore.ErrBlobNotFound) {
			return fmt.Errorf("removing %s: %w", d.StorageKey, err)
		}
		s.logger.Warn().Str("key", d.StorageKey).Str("document_id", d.ID.String()).Msg("document object already missing")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.publisher.Publish(ctx, websocket.NewEvent(EventDocumentDeleted, websocket.TopicDocuments, "Document", d.ID.String(), map[string]interface{}{
		"patient_id": d.PatientID,
	}))
	return nil
}
