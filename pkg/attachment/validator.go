package attachment

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
)

const fingerprintPrefix = "sha256:"

// Fingerprint returns the inline-tier id for data.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return fingerprintPrefix + hex.EncodeToString(sum[:])
}

// preparedChange is a change with its inline payload buffered and
// fingerprinted.
type preparedChange struct {
	key    string
	change DataAttachmentChange

	inline   bool
	data     []byte
	inlineID string
}

// prepareChanges orders changes by key and buffers every inline-tier payload.
// Object-store payloads are left as streams.
func prepareChanges(entityID uuid.UUID, changes map[string]DataAttachmentChange, threshold int64) ([]preparedChange, error) {
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	prepared := make([]preparedChange, 0, len(keys))
	for _, key := range keys {
		pc := preparedChange{key: key, change: changes[key]}
		if key == "" {
			return nil, validationError(entityID, key, "attachment key is empty")
		}
		switch c := pc.change.(type) {
		case Delete:
		case CreateOrUpdate:
			if c.Data == nil {
				return nil, validationError(entityID, key, "data stream is nil")
			}
			if c.SizeBytes < 0 {
				return nil, validationError(entityID, key, fmt.Sprintf("negative size %d", c.SizeBytes))
			}
			if c.SizeBytes < threshold {
				data, err := io.ReadAll(io.LimitReader(c.Data, c.SizeBytes+1))
				if err != nil {
					return nil, &AttachmentError{EntityID: entityID, Key: key, Op: "read_payload", Err: err}
				}
				if int64(len(data)) != c.SizeBytes {
					return nil, validationError(entityID, key, fmt.Sprintf("declared size %d does not match payload", c.SizeBytes))
				}
				pc.inline = true
				pc.data = data
				pc.inlineID = Fingerprint(data)
				c.Data = bytes.NewReader(data)
				pc.change = c
			}
		case nil:
			return nil, validationError(entityID, key, "change is nil")
		default:
			return nil, validationError(entityID, key, fmt.Sprintf("unsupported change %T", c))
		}
		prepared = append(prepared, pc)
	}
	return prepared, nil
}

// validateChanges rejects requests that can never be applied to current.
func validateChanges(entityID uuid.UUID, current map[string]DataAttachment, prepared []preparedChange) error {
	inlineOwners := make(map[string]string)
	for _, pc := range prepared {
		switch pc.change.(type) {
		case Delete:
			if _, ok := current[pc.key]; !ok {
				return &AttachmentError{
					EntityID: entityID,
					Key:      pc.key,
					Op:       "validate",
					Err:      fmt.Errorf("%w: cannot delete missing attachment", ErrValidation),
				}
			}
		case CreateOrUpdate:
			if !pc.inline {
				continue
			}
			if other, ok := inlineOwners[pc.inlineID]; ok {
				return &AttachmentError{
					EntityID: entityID,
					Key:      pc.key,
					Op:       "validate",
					Err:      fmt.Errorf("%w: same payload as key %q in this request", ErrDuplicateContent, other),
				}
			}
			inlineOwners[pc.inlineID] = pc.key
		}
	}
	return nil
}

func validationError(entityID uuid.UUID, key, msg string) error {
	return &AttachmentError{
		EntityID: entityID,
		Key:      key,
		Op:       "validate",
		Err:      fmt.Errorf("%w: %s", ErrValidation, msg),
	}
}
