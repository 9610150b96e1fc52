package attachment

import (
	"fmt"
	"sort"
)

func (s *service[E]) EnsureValidAttachmentChanges(current, candidate E, lenientKeys []string) (E, error) {
	return EnsureValidAttachmentChanges(s.hooks, current, candidate, lenientKeys)
}

// EnsureValidAttachmentChanges checks a candidate produced by a generic
// entity update against the stored entity. Attachment ids may only change
// through UpdateAttachments: for lenient keys drifted ids are silently reset
// to the current ones, for any other key the candidate is rejected. The
// deleted attachments log must be identical. Inline stubs are always carried
// over from current. No I/O.
func EnsureValidAttachmentChanges[E Entity](hooks Hooks[E], current, candidate E, lenientKeys []string) (E, error) {
	var zero E

	lenient := make(map[string]bool, len(lenientKeys))
	for _, k := range lenientKeys {
		lenient[k] = true
	}

	if !sameDeletedLog(current.DeletedAttachments(), candidate.DeletedAttachments()) {
		return zero, &EntityError{
			EntityID: candidate.EntityID(),
			Op:       "ensure_valid",
			Err:      fmt.Errorf("%w: deleted attachments can only be extended by attachment updates", ErrValidation),
		}
	}

	cur := current.DataAttachments()
	cand := candidate.DataAttachments()
	sanitized := make(map[string]DataAttachment, len(cand))

	for _, key := range unionKeys(cur, cand) {
		c, inCur := cur[key]
		n, inCand := cand[key]

		switch {
		case inCur && inCand && c.SameIDs(n):
			sanitized[key] = NewDataAttachment(n.InlineStoreID, n.ObjectStoreID, n.TypeHints)
		case !lenient[key]:
			return zero, &AttachmentError{
				EntityID: candidate.EntityID(),
				Key:      key,
				Op:       "ensure_valid",
				Err:      fmt.Errorf("%w: attachment ids can only change through attachment updates", ErrValidation),
			}
		case inCur && inCand:
			sanitized[key] = NewDataAttachment(c.InlineStoreID, c.ObjectStoreID, n.TypeHints)
		case inCur:
			sanitized[key] = NewDataAttachment(c.InlineStoreID, c.ObjectStoreID, c.TypeHints)
		default:
			// added outside the engine on a lenient key; nothing backs it
		}
	}

	out := hooks.ApplyAttachments(candidate, sanitized, append([]DeletedAttachment(nil), current.DeletedAttachments()...), cloneStubs(current.InlineStubs()))
	return out, nil
}

func sameDeletedLog(a, b []DeletedAttachment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].AttachmentKey != b[i].AttachmentKey ||
			a[i].InlineStoreID != b[i].InlineStoreID ||
			a[i].ObjectStoreID != b[i].ObjectStoreID ||
			!a[i].DeletionTimestamp.Equal(b[i].DeletionTimestamp) {
			return false
		}
	}
	return true
}

func unionKeys(a, b map[string]DataAttachment) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
