package attachment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Document is the entity type shipped with this library. It carries
// free-form fields next to its attachments and is what the bundled stores
// persist.
type Document struct {
	ID        uuid.UUID                  `json:"id"`
	Kind      string                     `json:"kind,omitempty"`
	Rev       string                     `json:"revision"`
	Fields    map[string]json.RawMessage `json:"fields,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`

	Attachments map[string]DataAttachment `json:"data_attachments"`
	Deleted     []DeletedAttachment       `json:"deleted_attachments"`
	Inline      map[string]InlineStub     `json:"inline_stubs,omitempty"`
}

func (d *Document) EntityID() uuid.UUID { return d.ID }

func (d *Document) Revision() string { return d.Rev }

func (d *Document) DataAttachments() map[string]DataAttachment { return d.Attachments }

func (d *Document) DeletedAttachments() []DeletedAttachment { return d.Deleted }

func (d *Document) InlineStubs() map[string]InlineStub { return d.Inline }

// CloneDocument returns a deep copy of d.
func CloneDocument(d *Document) *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.Fields != nil {
		c.Fields = make(map[string]json.RawMessage, len(d.Fields))
		for k, v := range d.Fields {
			c.Fields[k] = append(json.RawMessage(nil), v...)
		}
	}
	c.Attachments = cloneAttachments(d.Attachments)
	c.Deleted = append([]DeletedAttachment(nil), d.Deleted...)
	c.Inline = cloneStubs(d.Inline)
	return &c
}

// DocumentHooks returns the Hooks used by the engine for *Document.
func DocumentHooks() Hooks[*Document] {
	return Hooks[*Document]{
		ApplyAttachments: func(d *Document, attachments map[string]DataAttachment, deleted []DeletedAttachment, stubs map[string]InlineStub) *Document {
			c := CloneDocument(d)
			c.Attachments = attachments
			c.Deleted = deleted
			c.Inline = stubs
			c.UpdatedAt = time.Now().UTC()
			return c
		},
		SetRevision: func(d *Document, revision string) *Document {
			c := CloneDocument(d)
			c.Rev = revision
			return c
		},
	}
}
