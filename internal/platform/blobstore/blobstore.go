// Package blobstore stores visit recordings and transcripts. The in-memory
// store backs development and tests; the handler serves stored blobs back to
// authorised clinicians.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrInvalidCategory    = errors.New("category is not allowed")
	ErrEmptyContent       = errors.New("content is empty")
)

// MaxFileSize is the largest accepted recording (50 MB).
const MaxFileSize = 50 * 1024 * 1024

const (
	CategoryVisitAudio = "visit-audio"
	CategoryTranscript = "transcript"
)

// AllowedCategories lists valid blob categories.
var AllowedCategories = map[string]bool{
	CategoryVisitAudio: true,
	CategoryTranscript: true,
}

// AllowedContentTypes lists the accepted recording formats. text/plain is a
// ready-made transcript and skips speech recognition.
var AllowedContentTypes = map[string]bool{
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/wave":  true,
	"audio/mpeg":  true,
	"audio/mp3":   true,
	"audio/mp4":   true,
	"audio/m4a":   true,
	"audio/x-m4a": true,
	"audio/webm":  true,
	"audio/ogg":   true,
	"text/plain":  true,
}

// NormalizeContentType strips parameters such as charset and lowercases the
// media type.
func NormalizeContentType(ct string) string {
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// BlobMetadata describes a stored blob.
type BlobMetadata struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	ClinicID    string    `json:"clinic_id,omitempty"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Category    string    `json:"category"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlobStore is implemented by storage backends.
type BlobStore interface {
	Put(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error)
	Get(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error)
	GetMetadata(ctx context.Context, id string) (*BlobMetadata, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*BlobMetadata, error)
	Delete(ctx context.Context, id string) error
}

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// InMemoryBlobStore is a thread-safe in-memory BlobStore.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

// NewInMemoryBlobStore returns an empty store.
func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string]*storedBlob)}
}

// Put validates the metadata, reads the content and stores it with its
// SHA-256 hash.
func (s *InMemoryBlobStore) Put(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	if meta.OwnerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}
	if meta.Category == "" {
		meta.Category = CategoryVisitAudio
	}
	if !AllowedCategories[meta.Category] {
		return nil, ErrInvalidCategory
	}
	meta.ContentType = NormalizeContentType(meta.ContentType)
	if !AllowedContentTypes[meta.ContentType] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidContentType, meta.ContentType)
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyContent
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	meta.ID = uuid.New().String()
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", sha256.Sum256(data))
	meta.CreatedAt = time.Now().UTC()
	if meta.FileName == "" {
		meta.FileName = meta.ID
	}

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

// Get returns a reader over the blob content and its metadata.
func (s *InMemoryBlobStore) Get(_ context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

// GetMetadata returns metadata without content.
func (s *InMemoryBlobStore) GetMetadata(_ context.Context, id string) (*BlobMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[id]
	if !ok {
		return nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return &meta, nil
}

// ListByOwner returns the owner's blobs, oldest first.
func (s *InMemoryBlobStore) ListByOwner(_ context.Context, ownerID string) ([]*BlobMetadata, error) {
	s.mu.RLock()
	var out []*BlobMetadata
	for _, b := range s.blobs {
		if b.metadata.OwnerID == ownerID {
			m := b.metadata
			out = append(out, &m)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete removes a blob.
func (s *InMemoryBlobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

// ClinicResolver returns the caller's clinic, or "" when unrestricted.
type ClinicResolver func(c echo.Context) string

// BlobHandler serves stored blobs.
type BlobHandler struct {
	store    BlobStore
	clinicOf ClinicResolver
}

// NewBlobHandler creates a BlobHandler. A non-nil clinicOf restricts reads to
// blobs of the caller's clinic.
func NewBlobHandler(store BlobStore, clinicOf ClinicResolver) *BlobHandler {
	return &BlobHandler{store: store, clinicOf: clinicOf}
}

// RegisterRoutes mounts the blob routes on g.
func (h *BlobHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/blobs/:id/metadata", h.HandleGetMetadata)
	g.GET("/blobs/:id", h.HandleDownload)
}

func (h *BlobHandler) visible(c echo.Context, meta *BlobMetadata) bool {
	if h.clinicOf == nil {
		return true
	}
	clinic := h.clinicOf(c)
	return clinic == "" || meta.ClinicID == "" || meta.ClinicID == clinic
}

// HandleDownload streams the blob content.
func (h *BlobHandler) HandleDownload(c echo.Context) error {
	rc, meta, err := h.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer rc.Close()
	if !h.visible(c, meta) {
		return echo.NewHTTPError(http.StatusNotFound, ErrBlobNotFound.Error())
	}
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, meta.FileName))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

// HandleGetMetadata returns blob metadata.
func (h *BlobHandler) HandleGetMetadata(c echo.Context) error {
	meta, err := h.store.GetMetadata(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !h.visible(c, meta) {
		return echo.NewHTTPError(http.StatusNotFound, ErrBlobNotFound.Error())
	}
	return c.JSON(http.StatusOK, meta)
}
