package postgres

// Schema creates the tables used by Repository.
const Schema = `
CREATE TABLE IF NOT EXISTS attachment_document (
	id          UUID PRIMARY KEY,
	kind        TEXT NOT NULL DEFAULT '',
	revision    TEXT NOT NULL,
	generation  BIGINT NOT NULL,
	body        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS attachment_inline (
	document_id   UUID NOT NULL REFERENCES attachment_document(id) ON DELETE CASCADE,
	attachment_id TEXT NOT NULL,
	mime_type     TEXT NOT NULL,
	length        BIGINT NOT NULL,
	encoding      TEXT NOT NULL DEFAULT 'identity',
	data          BYTEA NOT NULL,
	PRIMARY KEY (document_id, attachment_id)
);
`
