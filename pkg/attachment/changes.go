package attachment

import "io"

// DataAttachmentChange is a requested change for one attachment key.
// It is either CreateOrUpdate or Delete.
type DataAttachmentChange interface {
	isDataAttachmentChange()
}

// CreateOrUpdate stores Data under the key, replacing any previous payload.
type CreateOrUpdate struct {
	Data            io.Reader
	SizeBytes       int64
	TypeHints       []string
	DataIsEncrypted bool
}

// Delete removes the key.
type Delete struct{}

func (CreateOrUpdate) isDataAttachmentChange() {}
func (Delete) isDataAttachmentChange()         {}
