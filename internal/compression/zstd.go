// Package compression wraps zstd for cache values and snapshot layers.
package compression

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Frame markers, stored as the first byte of a framed payload.
const (
	markerRaw  byte = 'r'
	markerZstd byte = 'z'
)

// minFrameSize is the smallest payload worth compressing.
const minFrameSize = 128

var ErrCorrupt = errors.New("compression: corrupt payload")

type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	enabled bool
}

// NewCompressor creates a compressor. Level 1 is fastest, 3 compresses best,
// anything else is the zstd default. A disabled compressor still decodes
// compressed frames so that readers and writers may disagree on the setting.
func NewCompressor(level int, enabled bool) (*Compressor, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	if !enabled {
		return &Compressor{decoder: decoder}, nil
	}

	var encoderLevel zstd.EncoderLevel
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 2:
		encoderLevel = zstd.SpeedDefault
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		decoder.Close()
		return nil, err
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
		enabled: true,
	}, nil
}

// Enabled reports whether Frame may compress.
func (c *Compressor) Enabled() bool { return c.enabled }

// Compress returns data as a bare zstd stream. It fails on a disabled
// compressor.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if !c.enabled {
		return nil, errors.New("compression: compressor is disabled")
	}
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decompress decodes a bare zstd stream.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}

// Frame prefixes data with a marker byte, compressing it when that is enabled
// and actually shrinks the payload.
func (c *Compressor) Frame(data []byte) []byte {
	if c.enabled && len(data) >= minFrameSize {
		out := make([]byte, 1, len(data)/2+1)
		out[0] = markerZstd
		out = c.encoder.EncodeAll(data, out)
		if len(out) < len(data)+1 {
			return out
		}
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, markerRaw)
	return append(out, data...)
}

// Unframe reverses Frame.
func (c *Compressor) Unframe(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrCorrupt)
	}
	switch data[0] {
	case markerRaw:
		return data[1:], nil
	case markerZstd:
		return c.Decompress(data[1:])
	default:
		return nil, fmt.Errorf("%w: unknown marker %q", ErrCorrupt, data[0])
	}
}

func (c *Compressor) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}
