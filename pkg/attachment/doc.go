// Package attachment provides a reusable engine for updating the binary
// attachments of versioned entities.
//
// Each payload is routed to one of two storage tiers by size. Small payloads
// go to the inline tier: they are written into the entity's own revisioned
// record and identified by a content fingerprint, which also deduplicates
// identical bytes within an entity. Large payloads go to the object-store
// tier: they are staged under a random id and only linked (finalized) after
// the entity metadata referencing them has been committed.
//
// Two Phase Update
//
// The entity store and the object store cannot be updated in one transaction,
// so UpdateAttachments runs in three phases:
//
//   - Phase A writes physical bytes (inline uploads, object-store pre-stores).
//   - Phase B performs exactly one optimistic, revision-checked save of the
//     entity metadata.
//   - Phase C schedules asynchronous finalize-store and finalize-delete calls
//     against the object store, only after Phase B succeeded.
//
// A failure between Phase A and Phase B leaves bytes without referencing
// metadata. Retrying the whole call is safe: inline writes are keyed by
// content and are recognised as already present; pre-stored object blobs are
// inert until finalized and are reclaimed by an external sweep.
//
// Known limitation: several inline uploads in one call are not a single
// transaction. If the second of three uploads fails, the first stays
// committed at the store while the metadata commit never runs. A retry
// short-circuits the upload that already landed.
//
// Entities
//
// The engine is generic over the concrete entity type. Any type implementing
// Entity can be used, together with a Hooks value that knows how to write the
// updated attachment fields and revision back onto that type. Document is the
// entity type shipped with this library and used by the bundled stores.
package attachment
