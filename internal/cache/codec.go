package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/statdash/statdash/internal/dataset"
)

// tableMagic prefixes every disk entry so foreign or truncated files are
// rejected before decompression.
var tableMagic = []byte("SDT1")

// maxPooledBuffer keeps unusually large tables from pinning memory in the pool.
const maxPooledBuffer = 4 << 20

var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// tableCodec turns tables into zstd-compressed JSON and back. EncodeAll and
// DecodeAll are safe for concurrent use, so one codec serves the whole tier.
type tableCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newTableCodec() (*tableCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &tableCodec{encoder: encoder, decoder: decoder}, nil
}

func (c *tableCodec) encode(table *dataset.Table) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		if buf.Cap() <= maxPooledBuffer {
			bufferPool.Put(buf)
		}
	}()

	if err := json.NewEncoder(buf).Encode(table); err != nil {
		return nil, fmt.Errorf("failed to marshal table: %w", err)
	}

	raw := buf.Bytes()
	dst := make([]byte, 0, len(tableMagic)+len(raw)/2)
	dst = append(dst, tableMagic...)
	return c.encoder.EncodeAll(raw, dst), nil
}

func (c *tableCodec) decode(data []byte) (*dataset.Table, error) {
	if !bytes.HasPrefix(data, tableMagic) {
		return nil, fmt.Errorf("unrecognized cache file header")
	}

	raw, err := c.decoder.DecodeAll(data[len(tableMagic):], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress table: %w", err)
	}

	var table dataset.Table
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("failed to unmarshal table: %w", err)
	}
	return &table, nil
}

func (c *tableCodec) close() error {
	c.decoder.Close()
	return c.encoder.Close()
}
