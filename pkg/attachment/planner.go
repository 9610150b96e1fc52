package attachment

import (
	"fmt"

	"github.com/google/uuid"
)

// keyPlan is the planner output for one attachment key.
type keyPlan struct {
	Key      string
	New      *DataAttachment
	Replaced *DataAttachment
	Tasks    []AttachmentTask
}

type planner struct {
	newObjectID func() string
}

// plan turns prepared changes into storage tasks. Any error aborts the whole
// request before I/O.
func (p planner) plan(entity Entity, prepared []preparedChange) ([]keyPlan, error) {
	current := entity.DataAttachments()
	stubs := entity.InlineStubs()

	plans := make([]keyPlan, 0, len(prepared))
	for _, pc := range prepared {
		kp := keyPlan{Key: pc.key}
		if prev, ok := current[pc.key]; ok {
			prev = prev.Clone()
			kp.Replaced = &prev
		}

		switch c := pc.change.(type) {
		case CreateOrUpdate:
			var desc DataAttachment
			if pc.inline {
				if owner, ok := inlineOwner(current, pc.inlineID); ok && owner != pc.key {
					return nil, &AttachmentError{
						EntityID: entity.EntityID(),
						Key:      pc.key,
						Op:       "plan",
						Err:      fmt.Errorf("%w: payload already stored under key %q", ErrDuplicateContent, owner),
					}
				}
				desc = NewDataAttachment(pc.inlineID, "", c.TypeHints)
				if _, committed := stubs[pc.inlineID]; !committed {
					mimeType := desc.EffectiveMimeType()
					if c.DataIsEncrypted {
						mimeType = DefaultMimeType
					}
					kp.Tasks = append(kp.Tasks, UploadInline{ID: pc.inlineID, Bytes: pc.data, MimeType: mimeType})
				}
			} else {
				id := p.newObjectID()
				desc = NewDataAttachment("", id, c.TypeHints)
				kp.Tasks = append(kp.Tasks, PreStoreAndUploadObjectStore{ID: id, Data: c.Data, Size: c.SizeBytes})
			}
			kp.New = &desc
		case Delete:
		}

		kp.Tasks = append(kp.Tasks, reclaimTasks(kp.Replaced, kp.New)...)
		plans = append(plans, kp)
	}
	return plans, nil
}

// reclaimTasks deletes the ids of replaced that next no longer references.
func reclaimTasks(replaced, next *DataAttachment) []AttachmentTask {
	if replaced == nil {
		return nil
	}
	var keep DataAttachment
	if next != nil {
		keep = *next
	}
	var tasks []AttachmentTask
	if replaced.HasInline() && replaced.InlineStoreID != keep.InlineStoreID {
		tasks = append(tasks, DeleteInline{ID: replaced.InlineStoreID})
	}
	if replaced.HasObject() && replaced.ObjectStoreID != keep.ObjectStoreID {
		tasks = append(tasks, DeleteObjectStore{ID: replaced.ObjectStoreID})
	}
	return tasks
}

func inlineOwner(attachments map[string]DataAttachment, inlineID string) (string, bool) {
	for key, a := range attachments {
		if a.InlineStoreID == inlineID {
			return key, true
		}
	}
	return "", false
}

func newObjectStoreID() string {
	return uuid.New().String()
}
