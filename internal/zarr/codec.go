// Package zarr reads and writes single-chunk Zarr v2 arrays: a JSON .zarray
// metadata document, an optional .zattrs document and one zstd-compressed
// little-endian chunk. Raw tile observations and prediction patches are both
// stored this way, so the same tree can be opened by the Python tooling that
// produced the upstream inputs.
package zarr

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"tileseam/internal/storage"
	"tileseam/internal/types"
)

const (
	DTypeFloat32 = "<f4"
	DTypeInt32   = "<i4"

	elemSize = 4
)

// Store is the subset of storage.ObjectStore the codec needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// ArrayMeta is the .zarray document.
type ArrayMeta struct {
	Chunks     []int           `json:"chunks"`
	Shape      []int           `json:"shape"`
	DType      string          `json:"dtype"`
	Compressor *CompressorMeta `json:"compressor"`
	FillValue  any             `json:"fill_value"`
	Order      string          `json:"order"`
	Filters    []any           `json:"filters"`
	ZarrFormat int             `json:"zarr_format"`
}

// CompressorMeta names the chunk compressor. Only zstd is supported; a nil
// compressor means the chunk is stored raw.
type CompressorMeta struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

// Size returns the number of elements described by Shape.
func (m *ArrayMeta) Size() int {
	n := 1
	for _, d := range m.Shape {
		n *= d
	}
	return n
}

// Codec encodes and decodes arrays. It is safe for concurrent use.
type Codec struct {
	encoder     *zstd.Encoder
	decoderPool sync.Pool
}

// NewCodec builds a codec with a shared encoder and a pool of decoders.
func NewCodec() *Codec {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
	}
	return &Codec{
		encoder: enc,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}
}

func metaKey(prefix string) string  { return prefix + "/.zarray" }
func attrsKey(prefix string) string { return prefix + "/.zattrs" }

// chunkKey is the key of the only chunk: "0.0...0" with one index per axis.
func chunkKey(prefix string, ndim int) string {
	if ndim == 0 {
		return prefix + "/0"
	}
	return prefix + "/" + strings.TrimSuffix(strings.Repeat("0.", ndim), ".")
}

// WriteFloat32 stores data under prefix. attrs may be nil.
func (c *Codec) WriteFloat32(ctx context.Context, store Store, prefix string, shape []int, data []float32, attrs map[string]any) error {
	buf := make([]byte, len(data)*elemSize)
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*elemSize:], math.Float32bits(v))
	}
	return c.write(ctx, store, prefix, shape, DTypeFloat32, "NaN", len(data), buf, attrs)
}

// WriteInt32 stores data under prefix. attrs may be nil.
func (c *Codec) WriteInt32(ctx context.Context, store Store, prefix string, shape []int, data []int32, attrs map[string]any) error {
	buf := make([]byte, len(data)*elemSize)
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*elemSize:], uint32(v))
	}
	return c.write(ctx, store, prefix, shape, DTypeInt32, 0, len(data), buf, attrs)
}

func (c *Codec) write(ctx context.Context, store Store, prefix string, shape []int, dtype string, fill any, n int, raw []byte, attrs map[string]any) error {
	meta := ArrayMeta{
		Chunks:     append([]int(nil), shape...),
		Shape:      append([]int(nil), shape...),
		DType:      dtype,
		Compressor: &CompressorMeta{ID: "zstd", Level: 3},
		FillValue:  fill,
		Order:      "C",
		ZarrFormat: 2,
	}
	if meta.Size() != n {
		return types.NewAppError(types.ErrCodeValidationArrayMeta,
			fmt.Sprintf("shape %v holds %d elements, got %d", shape, meta.Size(), n), nil)
	}

	// The chunk goes first so a reader that finds .zarray always finds data.
	if err := store.Put(ctx, chunkKey(prefix, len(shape)), c.encoder.EncodeAll(raw, nil)); err != nil {
		return storageErr("write chunk", prefix, err)
	}
	if attrs != nil {
		doc, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("marshal attributes for %s: %w", prefix, err)
		}
		if err := store.Put(ctx, attrsKey(prefix), doc); err != nil {
			return storageErr("write attributes", prefix, err)
		}
	}
	doc, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata for %s: %w", prefix, err)
	}
	if err := store.Put(ctx, metaKey(prefix), doc); err != nil {
		return storageErr("write metadata", prefix, err)
	}
	return nil
}

// ReadMeta loads and checks the .zarray document under prefix.
func (c *Codec) ReadMeta(ctx context.Context, store Store, prefix string) (*ArrayMeta, error) {
	data, err := store.Get(ctx, metaKey(prefix))
	if err != nil {
		return nil, storageErr("read metadata", prefix, err)
	}
	var meta ArrayMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationArrayMeta,
			fmt.Sprintf("failed to parse .zarray for %s", prefix), err)
	}
	if meta.ZarrFormat != 2 || meta.Order != "C" {
		return nil, types.NewAppError(types.ErrCodeValidationArrayMeta,
			fmt.Sprintf("%s: unsupported zarr_format=%d order=%q", prefix, meta.ZarrFormat, meta.Order), nil)
	}
	if len(meta.Chunks) != len(meta.Shape) {
		return nil, types.NewAppError(types.ErrCodeValidationArrayMeta,
			fmt.Sprintf("%s: chunks %v do not match shape %v", prefix, meta.Chunks, meta.Shape), nil)
	}
	for i := range meta.Shape {
		if meta.Chunks[i] != meta.Shape[i] {
			return nil, types.NewAppError(types.ErrCodeValidationArrayMeta,
				fmt.Sprintf("%s: multi-chunk arrays are not supported (shape %v, chunks %v)", prefix, meta.Shape, meta.Chunks), nil)
		}
	}
	if meta.Compressor != nil && meta.Compressor.ID != "zstd" {
		return nil, types.NewAppError(types.ErrCodeValidationArrayMeta,
			fmt.Sprintf("%s: unsupported compressor %q", prefix, meta.Compressor.ID), nil)
	}
	return &meta, nil
}

// ReadAttrs returns the .zattrs document, or an empty map if there is none.
func (c *Codec) ReadAttrs(ctx context.Context, store Store, prefix string) (map[string]any, error) {
	data, err := store.Get(ctx, attrsKey(prefix))
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, storageErr("read attributes", prefix, err)
	}
	attrs := map[string]any{}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationArrayMeta,
			fmt.Sprintf("failed to parse .zattrs for %s", prefix), err)
	}
	return attrs, nil
}

// ReadFloat32 loads a "<f4" array.
func (c *Codec) ReadFloat32(ctx context.Context, store Store, prefix string) (*ArrayMeta, []float32, error) {
	meta, raw, err := c.readRaw(ctx, store, prefix, DTypeFloat32)
	if err != nil {
		return nil, nil, err
	}
	return meta, parseFloat32s(raw), nil
}

// ReadInt32 loads a "<i4" array.
func (c *Codec) ReadInt32(ctx context.Context, store Store, prefix string) (*ArrayMeta, []int32, error) {
	meta, raw, err := c.readRaw(ctx, store, prefix, DTypeInt32)
	if err != nil {
		return nil, nil, err
	}
	out := make([]int32, len(raw)/elemSize)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(raw[i*elemSize:]))
	}
	return meta, out, nil
}

func (c *Codec) readRaw(ctx context.Context, store Store, prefix, dtype string) (*ArrayMeta, []byte, error) {
	meta, err := c.ReadMeta(ctx, store, prefix)
	if err != nil {
		return nil, nil, err
	}
	if meta.DType != dtype {
		return nil, nil, types.NewAppError(types.ErrCodeValidationArrayMeta,
			fmt.Sprintf("%s: dtype %q, want %q", prefix, meta.DType, dtype), nil)
	}

	key := chunkKey(prefix, len(meta.Shape))
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, nil, storageErr("read chunk", key, err)
	}
	if meta.Compressor != nil {
		data, err = c.decompress(data)
		if err != nil {
			return nil, nil, types.NewAppError(types.ErrCodeInternalArrayCorruption,
				fmt.Sprintf("failed to decompress chunk %s", key), err)
		}
	}
	if want := meta.Size() * elemSize; len(data) != want {
		return nil, nil, types.NewAppError(types.ErrCodeInternalArrayCorruption,
			fmt.Sprintf("chunk %s holds %d bytes, shape %v needs %d", key, len(data), meta.Shape, want), nil)
	}
	return meta, data, nil
}

func (c *Codec) decompress(data []byte) ([]byte, error) {
	decoder := c.decoderPool.Get().(*zstd.Decoder)
	defer c.decoderPool.Put(decoder)

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return out, nil
}

// parseFloat32s converts little-endian bytes to float32. len(data) must be a
// multiple of 4; readRaw checks that.
func parseFloat32s(data []byte) []float32 {
	out := make([]float32, len(data)/elemSize)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*elemSize:]))
	}
	return out
}

func storageErr(op, key string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return types.NewAppError(types.ErrCodeNotFoundArray, fmt.Sprintf("%s %s", op, key), err)
	}
	return types.NewAppError(types.ErrCodeUpstreamStorage, fmt.Sprintf("%s %s", op, key), err)
}
