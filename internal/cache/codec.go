package cache

import "github.com/golang/snappy"

// Codec is the swappable compression strategy for large cache entries.
type Codec interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// NoopCodec stores bytes as-is. It is the default: entries past the
// compression threshold are still flagged compressed so the codec can be
// swapped later without a schema change.
type NoopCodec struct{}

func (NoopCodec) Name() string                            { return "none" }
func (NoopCodec) Compress(data []byte) ([]byte, error)   { return data, nil }
func (NoopCodec) Decompress(data []byte) ([]byte, error) { return data, nil }

// SnappyCodec compresses entries with snappy block encoding.
type SnappyCodec struct{}

func (SnappyCodec) Name() string { return "snappy" }

func (SnappyCodec) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (SnappyCodec) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

// CodecByName returns the codec registered under name, defaulting to noop.
func CodecByName(name string) Codec {
	switch name {
	case "snappy":
		return SnappyCodec{}
	default:
		return NoopCodec{}
	}
}
