package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// service implements the Service interface
type service[E Entity] struct {
	store   EntityStore[E]
	objects ObjectStorage[E]
	hooks   Hooks[E]

	threshold           int64
	preStoreConcurrency int
	logger              *slog.Logger
	observer            Observer
	now                 func() time.Time
	newObjectID         func() string
}

type settings struct {
	threshold           int64
	preStoreConcurrency int
	logger              *slog.Logger
	observer            Observer
	now                 func() time.Time
	newObjectID         func() string
}

// Option represents a functional option for configuring the service
type Option func(*settings)

// WithInlineThreshold sets the payload size in bytes from which attachments
// go to the object-store tier
func WithInlineThreshold(bytes int64) Option {
	return func(s *settings) {
		s.threshold = bytes
	}
}

// WithPreStoreConcurrency bounds parallel object-store pre-stores
func WithPreStoreConcurrency(n int) Option {
	return func(s *settings) {
		s.preStoreConcurrency = n
	}
}

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithObserver sets the telemetry observer for the service
func WithObserver(observer Observer) Option {
	return func(s *settings) {
		s.observer = observer
	}
}

// WithClock overrides the source of deletion timestamps
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithObjectIDGenerator overrides how object-store ids are generated
func WithObjectIDGenerator(gen func() string) Option {
	return func(s *settings) {
		s.newObjectID = gen
	}
}

// New creates a new attachment engine for entity type E
func New[E Entity](store EntityStore[E], objects ObjectStorage[E], hooks Hooks[E], options ...Option) (Service[E], error) {
	cfg := settings{
		threshold:           DefaultInlineThreshold,
		preStoreConcurrency: 4,
		observer:            NewNoopObserver(),
		now:                 func() time.Time { return time.Now().UTC() },
		newObjectID:         newObjectStoreID,
	}
	for _, option := range options {
		option(&cfg)
	}

	if store == nil {
		return nil, fmt.Errorf("entity store is required")
	}
	if objects == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if hooks.ApplyAttachments == nil || hooks.SetRevision == nil {
		return nil, fmt.Errorf("entity hooks are required")
	}
	if cfg.threshold <= 0 {
		return nil, fmt.Errorf("inline threshold must be positive, got %d", cfg.threshold)
	}
	if cfg.preStoreConcurrency <= 0 {
		cfg.preStoreConcurrency = 1
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.observer == nil {
		cfg.observer = NewNoopObserver()
	}

	return &service[E]{
		store:               store,
		objects:             objects,
		hooks:               hooks,
		threshold:           cfg.threshold,
		preStoreConcurrency: cfg.preStoreConcurrency,
		logger:              cfg.logger,
		observer:            cfg.observer,
		now:                 cfg.now,
		newObjectID:         cfg.newObjectID,
	}, nil
}

// NewDocumentService creates an engine for the bundled Document entity
func NewDocumentService(store EntityStore[*Document], objects ObjectStorage[*Document], options ...Option) (Service[*Document], error) {
	return New(store, objects, DocumentHooks(), options...)
}

func (s *service[E]) UpdateAttachments(ctx context.Context, entityID uuid.UUID, expectedRevision *string, changes map[string]DataAttachmentChange) (E, error) {
	start := time.Now()
	saved, err := s.updateAttachments(ctx, entityID, expectedRevision, changes)
	s.observer.RecordUpdate(time.Since(start), err)
	if err != nil {
		s.logger.Warn("attachment update failed", "entity_id", entityID, "keys", len(changes), "error", err)
	}
	return saved, err
}

func (s *service[E]) updateAttachments(ctx context.Context, entityID uuid.UUID, expectedRevision *string, changes map[string]DataAttachmentChange) (E, error) {
	var zero E

	entity, err := s.store.Get(ctx, entityID)
	if err != nil {
		return zero, &EntityError{EntityID: entityID, Op: "get", Err: err}
	}
	if expectedRevision != nil && *expectedRevision != entity.Revision() {
		return zero, &EntityError{
			EntityID: entityID,
			Op:       "check_revision",
			Err:      fmt.Errorf("%w: expected %s, current %s", ErrConflict, *expectedRevision, entity.Revision()),
		}
	}
	if len(changes) == 0 {
		return entity, nil
	}

	prepared, err := prepareChanges(entityID, changes, s.threshold)
	if err != nil {
		return zero, err
	}
	if err := validateChanges(entityID, entity.DataAttachments(), prepared); err != nil {
		return zero, err
	}
	plans, err := planner{newObjectID: s.newObjectID}.plan(entity, prepared)
	if err != nil {
		return zero, err
	}

	// Phase A: physical writes.
	revision, err := s.uploadInline(ctx, entity, plans)
	if err != nil {
		return zero, err
	}
	if err := s.preStore(ctx, entity, plans); err != nil {
		return zero, err
	}

	// Phase B: one revision-checked metadata commit.
	attachments, deleted, stubs := s.commitState(entity, plans)
	candidate := entity
	if revision != entity.Revision() {
		candidate = s.hooks.SetRevision(candidate, revision)
	}
	candidate = s.hooks.ApplyAttachments(candidate, attachments, deleted, stubs)
	saved, err := s.store.Save(ctx, candidate)
	if err != nil {
		return zero, &EntityError{EntityID: entityID, Op: "save", Err: err}
	}

	// Phase C: finalize object-store blobs now that metadata references them.
	s.scheduleFinalize(ctx, saved, plans)

	s.logger.Debug("attachments updated", "entity_id", entityID, "revision", saved.Revision(), "keys", len(plans))
	return saved, nil
}

// uploadInline writes inline payloads one at a time, threading the revision
// each write produces into the next.
func (s *service[E]) uploadInline(ctx context.Context, entity E, plans []keyPlan) (string, error) {
	revision := entity.Revision()
	for _, kp := range plans {
		for _, task := range kp.Tasks {
			up, ok := task.(UploadInline)
			if !ok {
				continue
			}
			next, err := s.store.CreateAttachment(ctx, entity.EntityID(), up.ID, revision, up.MimeType, bytes.NewReader(up.Bytes))
			s.observer.RecordTask("upload_inline", int64(len(up.Bytes)), err)
			if err != nil {
				return "", &AttachmentError{EntityID: entity.EntityID(), Key: kp.Key, Op: "upload_inline", Err: err}
			}
			revision = next
		}
	}
	return revision, nil
}

func (s *service[E]) preStore(ctx context.Context, entity E, plans []keyPlan) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.preStoreConcurrency)
	for _, kp := range plans {
		for _, task := range kp.Tasks {
			pre, ok := task.(PreStoreAndUploadObjectStore)
			if !ok {
				continue
			}
			key := kp.Key
			g.Go(func() error {
				err := s.objects.PreStore(gctx, entity, pre.ID, pre.Data, pre.Size)
				s.observer.RecordTask("pre_store", pre.Size, err)
				if err != nil {
					return &AttachmentError{EntityID: entity.EntityID(), Key: key, Op: "pre_store", Err: err}
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// commitState builds the attachment map, audit log and inline stub set to
// save.
func (s *service[E]) commitState(entity E, plans []keyPlan) (map[string]DataAttachment, []DeletedAttachment, map[string]InlineStub) {
	attachments := cloneAttachments(entity.DataAttachments())
	deleted := append([]DeletedAttachment(nil), entity.DeletedAttachments()...)
	committedAt := s.now()

	uploaded := make(map[string]InlineStub)
	for _, kp := range plans {
		if kp.New != nil {
			attachments[kp.Key] = *kp.New
		} else {
			delete(attachments, kp.Key)
		}

		entry := DeletedAttachment{AttachmentKey: kp.Key, DeletionTimestamp: committedAt}
		for _, task := range kp.Tasks {
			switch t := task.(type) {
			case UploadInline:
				uploaded[t.ID] = InlineStub{MimeType: t.MimeType, Length: int64(len(t.Bytes))}
			case DeleteInline:
				entry.InlineStoreID = t.ID
			case DeleteObjectStore:
				entry.ObjectStoreID = t.ID
			}
		}
		if entry.InlineStoreID != "" || entry.ObjectStoreID != "" {
			deleted = append(deleted, entry)
		}
	}

	current := entity.InlineStubs()
	stubs := make(map[string]InlineStub)
	for _, a := range attachments {
		if !a.HasInline() {
			continue
		}
		if stub, ok := current[a.InlineStoreID]; ok {
			stubs[a.InlineStoreID] = stub
		} else if stub, ok := uploaded[a.InlineStoreID]; ok {
			stubs[a.InlineStoreID] = stub
		}
	}
	return attachments, deleted, stubs
}

// scheduleFinalize runs after a successful save. Failures are logged but do
// not fail the committed update; unfinalized blobs are left to the sweep.
func (s *service[E]) scheduleFinalize(ctx context.Context, saved E, plans []keyPlan) {
	for _, kp := range plans {
		for _, task := range kp.Tasks {
			switch t := task.(type) {
			case PreStoreAndUploadObjectStore:
				err := s.objects.ScheduleStoreAttachment(ctx, saved, t.ID)
				s.observer.RecordSchedule("store", err)
				if err != nil {
					s.logger.Error("failed to schedule attachment finalize", "entity_id", saved.EntityID(), "key", kp.Key, "object_store_id", t.ID, "error", err)
				}
			case DeleteObjectStore:
				err := s.objects.ScheduleDeleteAttachment(ctx, saved, t.ID)
				s.observer.RecordSchedule("delete", err)
				if err != nil {
					s.logger.Error("failed to schedule attachment delete", "entity_id", saved.EntityID(), "key", kp.Key, "object_store_id", t.ID, "error", err)
				}
			}
		}
	}
}

func (s *service[E]) OpenAttachment(ctx context.Context, entityID uuid.UUID, key string) (io.ReadCloser, DataAttachment, error) {
	entity, err := s.store.Get(ctx, entityID)
	if err != nil {
		return nil, DataAttachment{}, &EntityError{EntityID: entityID, Op: "get", Err: err}
	}
	desc, ok := entity.DataAttachments()[key]
	if !ok {
		return nil, DataAttachment{}, &AttachmentError{EntityID: entityID, Key: key, Op: "open", Err: ErrAttachmentNotFound}
	}

	var rc io.ReadCloser
	switch {
	case desc.HasInline():
		reader, ok := any(s.store).(InlineReader)
		if !ok {
			return nil, desc, &AttachmentError{EntityID: entityID, Key: key, Op: "open", Err: errors.New("entity store cannot stream inline attachments")}
		}
		rc, err = reader.OpenAttachment(ctx, entityID, desc.InlineStoreID)
	default:
		reader, ok := any(s.objects).(ObjectReader)
		if !ok {
			return nil, desc, &AttachmentError{EntityID: entityID, Key: key, Op: "open", Err: errors.New("object storage cannot stream attachments")}
		}
		rc, err = reader.OpenObject(ctx, entityID, desc.ObjectStoreID)
	}
	if err != nil {
		return nil, desc, &AttachmentError{EntityID: entityID, Key: key, Op: "open", Err: err}
	}
	return rc, desc.Clone(), nil
}
