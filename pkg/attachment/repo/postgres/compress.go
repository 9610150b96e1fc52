package postgres

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	encodingIdentity = "identity"
	encodingZstd     = "zstd"
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// encode compresses payloads when that actually saves space.
func encode(data []byte) (string, []byte) {
	if len(data) < 64 {
		return encodingIdentity, data
	}
	compressed := encoder.EncodeAll(data, make([]byte, 0, len(data)))
	if len(compressed) >= len(data) {
		return encodingIdentity, data
	}
	return encodingZstd, compressed
}

func decode(encoding string, data []byte) ([]byte, error) {
	switch encoding {
	case encodingIdentity, "":
		return data, nil
	case encodingZstd:
		out, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress inline attachment: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown inline attachment encoding %q", encoding)
	}
}
