package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-attachment/pkg/attachment"
	"github.com/tendant/simple-attachment/pkg/attachment/api"
	"github.com/tendant/simple-attachment/pkg/attachment/objectstore"
	"github.com/tendant/simple-attachment/pkg/attachment/repo/memory"
	memorystorage "github.com/tendant/simple-attachment/pkg/attachment/storage/memory"
)

type testServer struct {
	router http.Handler
	repo   *memory.Repository
	blobs  *memorystorage.Backend
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := memory.New()
	blobs := memorystorage.New()
	objects, err := objectstore.NewDocumentClient(blobs)
	require.NoError(t, err)
	svc, err := attachment.NewDocumentService(repo, objects, attachment.WithInlineThreshold(16))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := api.NewAttachmentHandler(svc, repo, logger)

	r := chi.NewRouter()
	r.Mount("/entities", handler.Routes())
	return &testServer{router: r, repo: repo, blobs: blobs}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createDocument(t *testing.T) attachment.Document {
	t.Helper()
	rec := s.do(t, httptest.NewRequest(http.MethodPost, "/entities/", strings.NewReader(`{"kind":"invoice"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	return decodeDocument(t, rec)
}

func (s *testServer) putAttachment(t *testing.T, id uuid.UUID, key, body, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, "/entities/"+id.String()+"/attachments/"+key, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return s.do(t, req)
}

func decodeDocument(t *testing.T, rec *httptest.ResponseRecorder) attachment.Document {
	t.Helper()
	var doc attachment.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	return doc
}

func TestCreateAndGetDocument(t *testing.T) {
	s := setupTestServer(t)
	doc := s.createDocument(t)
	assert.Equal(t, "invoice", doc.Kind)
	assert.NotEqual(t, uuid.Nil, doc.ID)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/entities/"+doc.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, strconv.Quote(doc.Rev), rec.Header().Get("ETag"))
	assert.Equal(t, doc.ID, decodeDocument(t, rec).ID)
}

func TestGetDocument_Errors(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/entities/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/entities/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutAndGetAttachment(t *testing.T) {
	s := setupTestServer(t)
	doc := s.createDocument(t)

	rec := s.putAttachment(t, doc.ID, "note", "hello", "text/plain")
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeDocument(t, rec)
	require.Contains(t, updated.Attachments, "note")
	assert.True(t, updated.Attachments["note"].HasInline())
	assert.NotEqual(t, doc.Rev, updated.Rev)

	rec = s.putAttachment(t, doc.ID, "scan", strings.Repeat("x", 32), "")
	require.Equal(t, http.StatusOK, rec.Code)
	updated = decodeDocument(t, rec)
	assert.True(t, updated.Attachments["scan"].HasObject())

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/entities/"+doc.ID.String()+"/attachments/note", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/entities/"+doc.ID.String()+"/attachments/scan", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, strings.Repeat("x", 32), rec.Body.String())
	assert.Equal(t, attachment.DefaultMimeType, rec.Header().Get("Content-Type"))

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/entities/"+doc.ID.String()+"/attachments/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutAttachment_RequiresContentLength(t *testing.T) {
	s := setupTestServer(t)
	doc := s.createDocument(t)

	req := httptest.NewRequest(http.MethodPut, "/entities/"+doc.ID.String()+"/attachments/note", strings.NewReader("hello"))
	req.ContentLength = -1
	rec := s.do(t, req)
	assert.Equal(t, http.StatusLengthRequired, rec.Code)
}

func TestPutAttachment_IfMatch(t *testing.T) {
	s := setupTestServer(t)
	doc := s.createDocument(t)

	req := httptest.NewRequest(http.MethodPut, "/entities/"+doc.ID.String()+"/attachments/note", strings.NewReader("hello"))
	req.Header.Set("If-Match", strconv.Quote(doc.Rev))
	rec := s.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// doc.Rev is stale now
	req = httptest.NewRequest(http.MethodPut, "/entities/"+doc.ID.String()+"/attachments/other", strings.NewReader("world"))
	req.Header.Set("If-Match", strconv.Quote(doc.Rev))
	rec = s.do(t, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPutAttachment_DuplicateContent(t *testing.T) {
	s := setupTestServer(t)
	doc := s.createDocument(t)

	require.Equal(t, http.StatusOK, s.putAttachment(t, doc.ID, "a", "same", "").Code)
	rec := s.putAttachment(t, doc.ID, "b", "same", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteAttachment(t *testing.T) {
	s := setupTestServer(t)
	doc := s.createDocument(t)
	require.Equal(t, http.StatusOK, s.putAttachment(t, doc.ID, "note", "hello", "").Code)

	rec := s.do(t, httptest.NewRequest(http.MethodDelete, "/entities/"+doc.ID.String()+"/attachments/note", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeDocument(t, rec)
	assert.NotContains(t, updated.Attachments, "note")
	require.Len(t, updated.Deleted, 1)
	assert.Equal(t, "note", updated.Deleted[0].AttachmentKey)

	rec = s.do(t, httptest.NewRequest(http.MethodDelete, "/entities/"+doc.ID.String()+"/attachments/note", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateDocument_GuardsAttachmentIDs(t *testing.T) {
	s := setupTestServer(t)
	doc := s.createDocument(t)
	rec := s.putAttachment(t, doc.ID, "note", "hello", "text/plain")
	require.Equal(t, http.StatusOK, rec.Code)
	current := decodeDocument(t, rec)

	tampered := current.Attachments["note"]
	tampered.InlineStoreID = "sha256:forged"
	body, err := json.Marshal(api.UpdateDocumentRequest{
		Kind:               "receipt",
		DataAttachments:    map[string]attachment.DataAttachment{"note": tampered},
		DeletedAttachments: current.Deleted,
	})
	require.NoError(t, err)

	rec = s.do(t, httptest.NewRequest(http.MethodPut, "/entities/"+doc.ID.String(), bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodPut, "/entities/"+doc.ID.String()+"?lenient=note", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	saved := decodeDocument(t, rec)
	assert.Equal(t, "receipt", saved.Kind)
	assert.Equal(t, current.Attachments["note"].InlineStoreID, saved.Attachments["note"].InlineStoreID)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/entities/"+doc.ID.String()+"/attachments/note", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
}

func TestUpdateDocument_StaleRevision(t *testing.T) {
	s := setupTestServer(t)
	doc := s.createDocument(t)
	rec := s.putAttachment(t, doc.ID, "note", "hello", "")
	require.Equal(t, http.StatusOK, rec.Code)
	current := decodeDocument(t, rec)

	body, err := json.Marshal(api.UpdateDocumentRequest{
		Revision:        doc.Rev,
		Kind:            "receipt",
		DataAttachments: current.Attachments,
	})
	require.NoError(t, err)
	rec = s.do(t, httptest.NewRequest(http.MethodPut, "/entities/"+doc.ID.String(), bytes.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteDocument_PurgesBlobs(t *testing.T) {
	s := setupTestServer(t)
	doc := s.createDocument(t)
	require.Equal(t, http.StatusOK, s.putAttachment(t, doc.ID, "scan", strings.Repeat("y", 40), "").Code)
	require.NotEmpty(t, s.blobs.Keys())

	rec := s.do(t, httptest.NewRequest(http.MethodDelete, "/entities/"+doc.ID.String(), nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, s.blobs.Keys())

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/entities/"+doc.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodDelete, "/entities/"+doc.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
