// Package blobstore stores document contents. Callers address objects by
// key; metadata such as owner and tags lives with the caller.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
	ErrEmptyFile          = errors.New("file is empty")
)

// MaxFileSize is the maximum allowed object size in bytes (25 MB).
const MaxFileSize = 25 * 1024 * 1024

// AllowedContentTypes lists the MIME types accepted for upload.
var AllowedContentTypes = map[string]bool{
	"application/pdf":    true,
	"image/png":          true,
	"image/jpeg":         true,
	"image/gif":          true,
	"image/dicom":        true,
	"application/dicom":  true,
	"text/plain":         true,
	"text/csv":           true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

// ValidateUpload checks a file before it is stored. Parameters such as
// "; charset=utf-8" on the content type are ignored.
func ValidateUpload(fileName, contentType string, size int64) error {
	if strings.TrimSpace(fileName) == "" {
		return ErrMissingFileName
	}
	if size == 0 {
		return ErrEmptyFile
	}
	if size > MaxFileSize {
		return ErrFileTooLarge
	}
	if !AllowedContentTypes[BaseContentType(contentType)] {
		return fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}
	return nil
}

// BaseContentType strips parameters and lower-cases a MIME type.
func BaseContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// ObjectKey builds prefix/owner/id-name with the file name reduced to its
// base so callers cannot escape the prefix.
func ObjectKey(prefix, owner, id, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	name = strings.ReplaceAll(name, " ", "_")
	if owner == "" {
		owner = "unassigned"
	}
	return fmt.Sprintf("%s/%s/%s-%s", prefix, owner, id, name)
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	SHA256       string    `json:"sha256,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// ObjectStore is implemented by MemoryStore and MinioStore.
type ObjectStore interface {
	// Put stores r under key. size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	Remove(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// hashingReader tees everything read through a sha256 hash.
type hashingReader struct {
	r io.Reader
	h hash.Hash
}

func newHashingReader(r io.Reader) *hashingReader {
	return &hashingReader{r: r, h: sha256.New()}
}

func (hr *hashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
	}
	return n, err
}

func (hr *hashingReader) Sum() string {
	return hex.EncodeToString(hr.h.Sum(nil))
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

type storedObject struct {
	info    ObjectInfo
	content []byte
}

// MemoryStore is a thread-safe ObjectStore for tests and development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*storedObject
	baseURL string
}

// NewMemoryStore returns an empty store. baseURL prefixes presigned URLs.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{objects: make(map[string]*storedObject), baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *MemoryStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) (*ObjectInfo, error) {
	if key == "" {
		return nil, ErrMissingFileName
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	sum := sha256.Sum256(data)
	info := ObjectInfo{
		Key:          key,
		ContentType:  contentType,
		Size:         int64(len(data)),
		SHA256:       hex.EncodeToString(sum[:]),
		LastModified: time.Now().UTC(),
	}

	s.mu.Lock()
	s.objects[key] = &storedObject{info: info, content: data}
	s.mu.Unlock()

	out := info
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	info := obj.info
	return io.NopCloser(bytes.NewReader(obj.content)), &info, nil
}

func (s *MemoryStore) Stat(_ context.Context, key string) (*ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound
	}
	info := obj.info
	return &info, nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.objects, key)
	return nil
}

// PresignedURL returns baseURL/key with an expires parameter. It does not
// sign anything; the memory store is not reachable over HTTP.
func (s *MemoryStore) PresignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", ErrBlobNotFound
	}
	return fmt.Sprintf("%s/%s?expires=%d", s.baseURL, key, time.Now().Add(expiry).Unix()), nil
}

// Keys lists stored keys in order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
