package attachment

import (
	"context"
	"errors"
	"sort"
)

// CleanupPurgedEntityAttachments schedules deletion of every object-store
// blob the purged entity still references. Inline bytes go away with the
// entity record. Every blob is attempted; failures are joined.
func (s *service[E]) CleanupPurgedEntityAttachments(ctx context.Context, purged E) error {
	attachments := purged.DataAttachments()
	keys := make([]string, 0, len(attachments))
	for k := range attachments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		a := attachments[key]
		if !a.HasObject() {
			continue
		}
		err := s.objects.ScheduleDeleteAttachment(ctx, purged, a.ObjectStoreID)
		s.observer.RecordSchedule("purge_delete", err)
		if err != nil {
			s.logger.Error("failed to schedule purged attachment delete", "entity_id", purged.EntityID(), "key", key, "object_store_id", a.ObjectStoreID, "error", err)
			errs = append(errs, &AttachmentError{EntityID: purged.EntityID(), Key: key, Op: "purge_cleanup", Err: err})
		}
	}
	return errors.Join(errs...)
}
