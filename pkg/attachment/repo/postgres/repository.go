package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-attachment/pkg/attachment"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// DB is a DBTX that can open transactions, such as *pgxpool.Pool
type DB interface {
	DBTX
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements attachment.EntityStore for *attachment.Document
// using PostgreSQL. Inline bytes are stored in attachment_inline and
// compressed with zstd when that saves space.
type Repository struct {
	db     DB
	schema string
}

// Option configures a Repository
type Option func(*Repository)

// WithSchema makes Migrate create the named schema before its tables. The
// connection's search_path must point at it.
func WithSchema(schema string) Option {
	return func(r *Repository) {
		r.schema = schema
	}
}

// New creates a new PostgreSQL repository
func New(db DB, opts ...Option) *Repository {
	r := &Repository{db: db}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool, opts ...Option) *Repository {
	return New(pool, opts...)
}

// Migrate creates the schema if it does not exist
func (r *Repository) Migrate(ctx context.Context) error {
	if r.schema != "" {
		if _, err := r.db.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{r.schema}.Sanitize()); err != nil {
			return r.handlePostgresError("create schema", err)
		}
	}
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.handlePostgresError("migrate", err)
	}
	return nil
}

// documentBody is the JSON column; inline stubs come from attachment_inline.
type documentBody struct {
	Fields      map[string]json.RawMessage           `json:"fields,omitempty"`
	Attachments map[string]attachment.DataAttachment `json:"data_attachments"`
	Deleted     []attachment.DeletedAttachment       `json:"deleted_attachments"`
}

func revisionFor(generation int64) string {
	return fmt.Sprintf("%d-%s", generation, uuid.New().String()[:8])
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: document already exists", attachment.ErrConflict)
		case "23503": // foreign_key_violation
			return attachment.ErrNotFound
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return attachment.ErrNotFound
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Create stores a new document and assigns its first revision.
func (r *Repository) Create(ctx context.Context, doc *attachment.Document) (*attachment.Document, error) {
	c := attachment.CloneDocument(doc)
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Inline = map[string]attachment.InlineStub{}
	c.Rev = revisionFor(1)

	body, err := json.Marshal(documentBody{Fields: c.Fields, Attachments: c.Attachments, Deleted: c.Deleted})
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO attachment_document (id, kind, revision, generation, body, created_at, updated_at)
		VALUES ($1, $2, $3, 1, $4, $5, $6)`
	if _, err := r.db.Exec(ctx, query, c.ID, c.Kind, c.Rev, string(body), c.CreatedAt, c.UpdatedAt); err != nil {
		return nil, r.handlePostgresError("create document", err)
	}
	return c, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*attachment.Document, error) {
	return r.get(ctx, r.db, id)
}

func (r *Repository) get(ctx context.Context, db DBTX, id uuid.UUID) (*attachment.Document, error) {
	query := `
		SELECT id, kind, revision, body, created_at, updated_at
		FROM attachment_document WHERE id = $1`

	var doc attachment.Document
	var body []byte
	err := db.QueryRow(ctx, query, id).Scan(&doc.ID, &doc.Kind, &doc.Rev, &body, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, r.handlePostgresError("get document", err)
	}

	var decoded documentBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	doc.Fields = decoded.Fields
	doc.Attachments = decoded.Attachments
	if doc.Attachments == nil {
		doc.Attachments = map[string]attachment.DataAttachment{}
	}
	doc.Deleted = decoded.Deleted

	stubs, err := r.stubs(ctx, db, id)
	if err != nil {
		return nil, err
	}
	doc.Inline = stubs
	return &doc, nil
}

func (r *Repository) stubs(ctx context.Context, db DBTX, id uuid.UUID) (map[string]attachment.InlineStub, error) {
	rows, err := db.Query(ctx, `SELECT attachment_id, mime_type, length FROM attachment_inline WHERE document_id = $1`, id)
	if err != nil {
		return nil, r.handlePostgresError("list inline stubs", err)
	}
	defer rows.Close()

	stubs := make(map[string]attachment.InlineStub)
	for rows.Next() {
		var attachmentID string
		var stub attachment.InlineStub
		if err := rows.Scan(&attachmentID, &stub.MimeType, &stub.Length); err != nil {
			return nil, r.handlePostgresError("scan inline stub", err)
		}
		stubs[attachmentID] = stub
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate inline stubs", err)
	}
	return stubs, nil
}

// Save commits doc if its revision is current. Inline rows whose ids are
// missing from doc.Inline are removed in the same transaction.
func (r *Repository) Save(ctx context.Context, doc *attachment.Document) (*attachment.Document, error) {
	body, err := json.Marshal(documentBody{Fields: doc.Fields, Attachments: doc.Attachments, Deleted: doc.Deleted})
	if err != nil {
		return nil, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, r.handlePostgresError("begin save", err)
	}
	defer tx.Rollback(ctx)

	suffix := uuid.New().String()[:8]
	var revision string
	err = tx.QueryRow(ctx, `
		UPDATE attachment_document
		SET kind = $3, body = $4, updated_at = $5,
			generation = generation + 1,
			revision = (generation + 1)::text || '-' || $6
		WHERE id = $1 AND revision = $2
		RETURNING revision`,
		doc.ID, doc.Rev, doc.Kind, string(body), time.Now().UTC(), suffix,
	).Scan(&revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.missingOrConflict(ctx, tx, doc.ID, doc.Rev)
	}
	if err != nil {
		return nil, r.handlePostgresError("save document", err)
	}

	keep := make([]string, 0, len(doc.Inline))
	for id := range doc.Inline {
		keep = append(keep, id)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM attachment_inline WHERE document_id = $1 AND NOT (attachment_id = ANY($2))`, doc.ID, keep); err != nil {
		return nil, r.handlePostgresError("drop inline attachments", err)
	}

	saved, err := r.get(ctx, tx, doc.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, r.handlePostgresError("commit save", err)
	}
	return saved, nil
}

func (r *Repository) CreateAttachment(ctx context.Context, entityID uuid.UUID, attachmentID, currentRevision, mimeType string, data io.Reader) (string, error) {
	payload, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	encoding, stored := encode(payload)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", r.handlePostgresError("begin create attachment", err)
	}
	defer tx.Rollback(ctx)

	var revision string
	err = tx.QueryRow(ctx, `
		UPDATE attachment_document
		SET generation = generation + 1,
			revision = (generation + 1)::text || '-' || $3,
			updated_at = $4
		WHERE id = $1 AND revision = $2
		RETURNING revision`,
		entityID, currentRevision, uuid.New().String()[:8], time.Now().UTC(),
	).Scan(&revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", r.missingOrConflict(ctx, tx, entityID, currentRevision)
	}
	if err != nil {
		return "", r.handlePostgresError("bump revision", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO attachment_inline (document_id, attachment_id, mime_type, length, encoding, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (document_id, attachment_id) DO UPDATE SET
			mime_type = EXCLUDED.mime_type,
			length = EXCLUDED.length,
			encoding = EXCLUDED.encoding,
			data = EXCLUDED.data`,
		entityID, attachmentID, mimeType, int64(len(payload)), encoding, stored)
	if err != nil {
		return "", r.handlePostgresError("insert inline attachment", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", r.handlePostgresError("commit create attachment", err)
	}
	return revision, nil
}

func (r *Repository) missingOrConflict(ctx context.Context, db DBTX, id uuid.UUID, revision string) error {
	var current string
	err := db.QueryRow(ctx, `SELECT revision FROM attachment_document WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return r.handlePostgresError("check revision", err)
	}
	return fmt.Errorf("%w: document %s is at revision %s, got %s", attachment.ErrConflict, id, current, revision)
}

// OpenAttachment streams inline bytes.
func (r *Repository) OpenAttachment(ctx context.Context, entityID uuid.UUID, attachmentID string) (io.ReadCloser, error) {
	var encoding string
	var stored []byte
	err := r.db.QueryRow(ctx, `
		SELECT encoding, data FROM attachment_inline
		WHERE document_id = $1 AND attachment_id = $2`, entityID, attachmentID).Scan(&encoding, &stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, attachment.ErrAttachmentNotFound
	}
	if err != nil {
		return nil, r.handlePostgresError("open inline attachment", err)
	}
	data, err := decode(encoding, stored)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete permanently removes a document with its inline bytes and returns
// the removed document.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (*attachment.Document, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, r.handlePostgresError("begin delete", err)
	}
	defer tx.Rollback(ctx)

	doc, err := r.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM attachment_document WHERE id = $1`, id); err != nil {
		return nil, r.handlePostgresError("delete document", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, r.handlePostgresError("commit delete", err)
	}
	return doc, nil
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	var one int
	if err := r.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return r.handlePostgresError("ping", err)
	}
	return nil
}
