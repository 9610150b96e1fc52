package attachment

import "io"

// AttachmentTask is a physical storage action planned for one request.
type AttachmentTask interface {
	isAttachmentTask()
}

// UploadInline writes a small payload into the entity's record.
type UploadInline struct {
	ID       string
	Bytes    []byte
	MimeType string
}

// PreStoreAndUploadObjectStore stages a large payload in the object store.
type PreStoreAndUploadObjectStore struct {
	ID   string
	Data io.Reader
	Size int64
}

// DeleteInline drops an inline payload. Dropping happens implicitly when
// the id is missing from the committed stub set.
type DeleteInline struct {
	ID string
}

// DeleteObjectStore reclaims an object-store blob after commit.
type DeleteObjectStore struct {
	ID string
}

func (UploadInline) isAttachmentTask()                 {}
func (PreStoreAndUploadObjectStore) isAttachmentTask() {}
func (DeleteInline) isAttachmentTask()                 {}
func (DeleteObjectStore) isAttachmentTask()            {}
