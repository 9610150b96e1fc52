package attachment

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	// sha256("ABC")
	assert.Equal(t, "sha256:b5d4045c3f466fa91fe2cc6abe79232a1a57cdf104f7a26e716e0a1e2789df78", Fingerprint([]byte("ABC")))
	assert.Equal(t, Fingerprint([]byte("same")), Fingerprint([]byte("same")))
	assert.NotEqual(t, Fingerprint([]byte("a")), Fingerprint([]byte("b")))
}

func TestPrepareChanges(t *testing.T) {
	id := uuid.New()

	prepared, err := prepareChanges(id, map[string]DataAttachmentChange{
		"zeta":  CreateOrUpdate{Data: strings.NewReader("big payload"), SizeBytes: 11},
		"alpha": CreateOrUpdate{Data: strings.NewReader("tiny"), SizeBytes: 4},
		"mid":   Delete{},
	}, 8)
	require.NoError(t, err)
	require.Len(t, prepared, 3)

	assert.Equal(t, "alpha", prepared[0].key)
	assert.True(t, prepared[0].inline)
	assert.Equal(t, []byte("tiny"), prepared[0].data)
	assert.Equal(t, Fingerprint([]byte("tiny")), prepared[0].inlineID)

	// inline payloads are buffered and replayable
	replay, err := io.ReadAll(prepared[0].change.(CreateOrUpdate).Data)
	require.NoError(t, err)
	assert.Equal(t, "tiny", string(replay))

	assert.Equal(t, "mid", prepared[1].key)
	assert.False(t, prepared[1].inline)

	assert.Equal(t, "zeta", prepared[2].key)
	assert.False(t, prepared[2].inline)
	assert.Nil(t, prepared[2].data)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestPrepareChangesRejects(t *testing.T) {
	tests := []struct {
		name       string
		changes    map[string]DataAttachmentChange
		validation bool
	}{
		{"empty key", map[string]DataAttachmentChange{"": Delete{}}, true},
		{"nil change", map[string]DataAttachmentChange{"a": nil}, true},
		{"nil data", map[string]DataAttachmentChange{"a": CreateOrUpdate{SizeBytes: 1}}, true},
		{"negative size", map[string]DataAttachmentChange{"a": CreateOrUpdate{Data: strings.NewReader(""), SizeBytes: -1}}, true},
		{"short stream", map[string]DataAttachmentChange{"a": CreateOrUpdate{Data: strings.NewReader("ab"), SizeBytes: 3}}, true},
		{"long stream", map[string]DataAttachmentChange{"a": CreateOrUpdate{Data: strings.NewReader("abcd"), SizeBytes: 3}}, true},
		{"read failure", map[string]DataAttachmentChange{"a": CreateOrUpdate{Data: failingReader{}, SizeBytes: 3}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := prepareChanges(uuid.New(), tt.changes, 8)
			require.Error(t, err)
			assert.Equal(t, tt.validation, errors.Is(err, ErrValidation))
		})
	}
}

func TestValidateChanges(t *testing.T) {
	id := uuid.New()
	current := map[string]DataAttachment{
		"existing": {InlineStoreID: Fingerprint([]byte("old"))},
	}

	prepare := func(t *testing.T, changes map[string]DataAttachmentChange) []preparedChange {
		t.Helper()
		prepared, err := prepareChanges(id, changes, 64)
		require.NoError(t, err)
		return prepared
	}

	t.Run("valid batch", func(t *testing.T) {
		err := validateChanges(id, current, prepare(t, map[string]DataAttachmentChange{
			"existing": Delete{},
			"new":      CreateOrUpdate{Data: strings.NewReader("fresh"), SizeBytes: 5},
		}))
		assert.NoError(t, err)
	})

	t.Run("delete missing key", func(t *testing.T) {
		err := validateChanges(id, current, prepare(t, map[string]DataAttachmentChange{"missing": Delete{}}))
		assert.ErrorIs(t, err, ErrValidation)
		assert.NotErrorIs(t, err, ErrDuplicateContent)
	})

	t.Run("duplicate payload in batch", func(t *testing.T) {
		err := validateChanges(id, current, prepare(t, map[string]DataAttachmentChange{
			"a": CreateOrUpdate{Data: strings.NewReader("dup"), SizeBytes: 3},
			"b": CreateOrUpdate{Data: strings.NewReader("dup"), SizeBytes: 3},
		}))
		assert.ErrorIs(t, err, ErrDuplicateContent)
		var attErr *AttachmentError
		require.ErrorAs(t, err, &attErr)
		assert.Equal(t, "b", attErr.Key)
	})

	t.Run("object-store payloads never collide", func(t *testing.T) {
		big := strings.Repeat("x", 64)
		err := validateChanges(id, current, prepare(t, map[string]DataAttachmentChange{
			"a": CreateOrUpdate{Data: strings.NewReader(big), SizeBytes: 64},
			"b": CreateOrUpdate{Data: strings.NewReader(big), SizeBytes: 64},
		}))
		assert.NoError(t, err)
	})
}
