package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-attachment/pkg/attachment"
)

// HeaderDataEncrypted marks an uploaded payload as client-side encrypted.
const HeaderDataEncrypted = "X-Data-Encrypted"

// HeaderAttachmentName carries an optional file name used as a type hint.
const HeaderAttachmentName = "X-Attachment-Name"

// DocumentStore is the document persistence used by the handler
type DocumentStore interface {
	Create(ctx context.Context, doc *attachment.Document) (*attachment.Document, error)
	Get(ctx context.Context, id uuid.UUID) (*attachment.Document, error)
	Save(ctx context.Context, doc *attachment.Document) (*attachment.Document, error)
	Delete(ctx context.Context, id uuid.UUID) (*attachment.Document, error)
}

// AttachmentHandler serves documents and their attachments over HTTP
type AttachmentHandler struct {
	service   attachment.Service[*attachment.Document]
	documents DocumentStore
	logger    *slog.Logger
}

func NewAttachmentHandler(service attachment.Service[*attachment.Document], documents DocumentStore, logger *slog.Logger) *AttachmentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttachmentHandler{
		service:   service,
		documents: documents,
		logger:    logger,
	}
}

// Routes returns the router for entity endpoints
func (h *AttachmentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateDocument)
	r.Get("/{id}", h.GetDocument)
	r.Put("/{id}", h.UpdateDocument)
	r.Delete("/{id}", h.DeleteDocument)
	r.Get("/{id}/attachments/{key}", h.GetAttachment)
	r.Put("/{id}/attachments/{key}", h.PutAttachment)
	r.Delete("/{id}/attachments/{key}", h.DeleteAttachment)
	return r
}

// CreateDocumentRequest represents the request to create a document
type CreateDocumentRequest struct {
	Kind   string                     `json:"kind,omitempty"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
}

// UpdateDocumentRequest replaces a document's fields and attachment map.
// Revision may be given here or in If-Match.
type UpdateDocumentRequest struct {
	Revision           string                               `json:"revision,omitempty"`
	Kind               string                               `json:"kind,omitempty"`
	Fields             map[string]json.RawMessage           `json:"fields,omitempty"`
	DataAttachments    map[string]attachment.DataAttachment `json:"data_attachments"`
	DeletedAttachments []attachment.DeletedAttachment       `json:"deleted_attachments"`
}

// CreateDocument creates an empty document
func (h *AttachmentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Error("Failed to decode request", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	doc, err := h.documents.Create(r.Context(), &attachment.Document{
		Kind:        req.Kind,
		Fields:      req.Fields,
		Attachments: map[string]attachment.DataAttachment{},
	})
	if err != nil {
		h.writeError(w, "Failed to create document", err)
		return
	}

	h.logger.Info("Document created", "entity_id", doc.ID)
	writeDocument(w, r, http.StatusCreated, doc)
}

// GetDocument returns a document with its attachment descriptors
func (h *AttachmentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	doc, err := h.documents.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to get document", err)
		return
	}
	writeDocument(w, r, http.StatusOK, doc)
}

// UpdateDocument saves a client-edited document after checking that the
// edit does not move attachment ids or rewrite the deletion log. Keys listed
// in ?lenient= have their ids restored instead of failing the request.
func (h *AttachmentHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req UpdateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", "entity_id", id, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	current, err := h.documents.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to get document", err)
		return
	}

	candidate := attachment.CloneDocument(current)
	candidate.Kind = req.Kind
	candidate.Fields = req.Fields
	candidate.Attachments = req.DataAttachments
	candidate.Deleted = req.DeletedAttachments
	if rev := ifMatch(r); rev != "" {
		candidate.Rev = rev
	} else if req.Revision != "" {
		candidate.Rev = req.Revision
	}

	sanitized, err := h.service.EnsureValidAttachmentChanges(current, candidate, lenientKeys(r))
	if err != nil {
		h.writeError(w, "Rejected document update", err)
		return
	}

	saved, err := h.documents.Save(r.Context(), sanitized)
	if err != nil {
		h.writeError(w, "Failed to save document", err)
		return
	}

	h.logger.Info("Document updated", "entity_id", id, "revision", saved.Rev)
	writeDocument(w, r, http.StatusOK, saved)
}

// DeleteDocument purges a document and schedules removal of its blobs
func (h *AttachmentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	purged, err := h.documents.Delete(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to delete document", err)
		return
	}

	// The document is gone either way; orphaned blobs are only logged.
	if err := h.service.CleanupPurgedEntityAttachments(r.Context(), purged); err != nil {
		h.logger.Error("Failed to schedule attachment cleanup", "entity_id", id, "error", err)
	}

	h.logger.Info("Document deleted", "entity_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// GetAttachment streams an attachment's bytes
func (h *AttachmentHandler) GetAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")

	rc, desc, err := h.service.OpenAttachment(r.Context(), id, key)
	if err != nil {
		h.writeError(w, "Failed to open attachment", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", desc.EffectiveMimeType())
	if desc.HasInline() {
		w.Header().Set("ETag", strconv.Quote(desc.InlineStoreID))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("Failed to stream attachment", "entity_id", id, "key", key, "error", err)
	}
}

// PutAttachment creates or replaces an attachment from the request body
func (h *AttachmentHandler) PutAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")

	if r.ContentLength < 0 {
		http.Error(w, "Content-Length is required", http.StatusLengthRequired)
		return
	}

	var hints []string
	if ct := r.Header.Get("Content-Type"); ct != "" {
		hints = append(hints, ct)
	}
	if name := r.Header.Get(HeaderAttachmentName); name != "" {
		hints = append(hints, name)
	}
	encrypted, _ := strconv.ParseBool(r.Header.Get(HeaderDataEncrypted))

	change := attachment.CreateOrUpdate{
		Data:            r.Body,
		SizeBytes:       r.ContentLength,
		TypeHints:       hints,
		DataIsEncrypted: encrypted,
	}
	h.update(w, r, id, key, change)
}

// DeleteAttachment removes an attachment key
func (h *AttachmentHandler) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	h.update(w, r, id, chi.URLParam(r, "key"), attachment.Delete{})
}

func (h *AttachmentHandler) update(w http.ResponseWriter, r *http.Request, id uuid.UUID, key string, change attachment.DataAttachmentChange) {
	var expected *string
	if rev := ifMatch(r); rev != "" {
		expected = &rev
	}

	doc, err := h.service.UpdateAttachments(r.Context(), id, expected, map[string]attachment.DataAttachmentChange{key: change})
	if err != nil {
		h.writeError(w, "Failed to update attachment", err)
		return
	}

	h.logger.Info("Attachment updated", "entity_id", id, "key", key, "revision", doc.Rev)
	writeDocument(w, r, http.StatusOK, doc)
}

func (h *AttachmentHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.Error("Invalid entity ID", "entity_id", idStr, "error", err)
		http.Error(w, "Invalid entity ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *AttachmentHandler) writeError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
	} else {
		h.logger.Warn(msg, "status", status, "error", err)
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, attachment.ErrNotFound), errors.Is(err, attachment.ErrAttachmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, attachment.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, attachment.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeDocument(w http.ResponseWriter, r *http.Request, status int, doc *attachment.Document) {
	w.Header().Set("ETag", strconv.Quote(doc.Rev))
	render.Status(r, status)
	render.JSON(w, r, doc)
}

func ifMatch(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("If-Match"))
	if unquoted, err := strconv.Unquote(v); err == nil {
		return unquoted
	}
	return v
}

func lenientKeys(r *http.Request) []string {
	var keys []string
	for _, raw := range r.URL.Query()["lenient"] {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
	}
	return keys
}
