package model

import (
	"bytes"
	gocontext "context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/mmap"
	"k8s.io/klog/v2"

	"github.com/gomlx/metl/internal/storage"
)

// SafetensorsExt is the file extension of safetensors files.
const SafetensorsExt = ".safetensors"

const (
	safetensorsMetadataKey  = "__metadata__"
	metadataFormat          = "format"
	metadataHyperparameters = "hyperparameters"
	formatName              = "metl"

	// maxHeaderSize protects against reading garbage as a header length.
	maxHeaderSize = 100 << 20
)

// ErrInvalidSafetensors is returned for malformed safetensors files.
var ErrInvalidSafetensors = errors.New("invalid safetensors file")

type tensorInfo struct {
	DType   string   `json:"dtype"`
	Shape   []int    `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

// weightsFile is the random-access content of a safetensors file.
type weightsFile interface {
	io.ReaderAt
	Len() int
	Close() error
}

type memWeights struct{ *bytes.Reader }

func (m memWeights) Len() int   { return int(m.Size()) }
func (memWeights) Close() error { return nil }

// openWeights memory-maps local files, and reads remote ones into memory.
func openWeights(ctx gocontext.Context, location string) (weightsFile, error) {
	if path, ok := storage.Local(location); ok {
		f, err := mmap.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "memory-mapping %q", path)
		}
		return f, nil
	}
	data, err := storage.Read(ctx, location)
	if err != nil {
		return nil, err
	}
	return memWeights{bytes.NewReader(data)}, nil
}

// VariableKey returns the safetensors name of a context variable: its scope and name joined by ".".
// E.g. "/layer_0/attention/query/dense" and "weights" become "layer_0.attention.query.dense.weights".
func VariableKey(scope, name string) string {
	scope = strings.Trim(scope, context.ScopeSeparator)
	if scope == "" {
		return name
	}
	return strings.ReplaceAll(scope, context.ScopeSeparator, ".") + "." + name
}

// splitVariableKey is the inverse of VariableKey.
func splitVariableKey(key string) (scope, name string) {
	idx := strings.LastIndex(key, ".")
	if idx < 0 {
		return context.RootScope, key
	}
	return context.ScopeSeparator + strings.ReplaceAll(key[:idx], ".", context.ScopeSeparator), key[idx+1:]
}

// LoadSafetensors reads the hyperparameters and tensors of the safetensors file at location into gctx.
// Half-precision tensors are converted to float32.
//
// Hyperparameters are read from the "hyperparameters" metadata entry, if present.
func LoadSafetensors(ctx gocontext.Context, gctx *context.Context, location string) error {
	f, err := openWeights(ctx, location)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := readSafetensors(gctx, f); err != nil {
		return errors.WithMessagef(err, "loading %q", location)
	}
	return nil
}

func readSafetensors(gctx *context.Context, f weightsFile) error {
	size := int64(f.Len())
	var lenBuf [8]byte
	if size < 8 {
		return errors.Wrapf(ErrInvalidSafetensors, "file too small (%d bytes)", size)
	}
	if _, err := f.ReadAt(lenBuf[:], 0); err != nil {
		return errors.Wrap(err, "reading header size")
	}
	headerSize := int64(binary.LittleEndian.Uint64(lenBuf[:]))
	if headerSize > maxHeaderSize || 8+headerSize > size {
		return errors.Wrapf(ErrInvalidSafetensors, "header size %d doesn't fit file of %d bytes", headerSize, size)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := f.ReadAt(headerBytes, 8); err != nil {
		return errors.Wrap(err, "reading header")
	}
	var header map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return errors.Wrapf(ErrInvalidSafetensors, "parsing header: %v", err)
	}

	if raw, found := header[safetensorsMetadataKey]; found {
		var metadata map[string]string
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return errors.Wrapf(ErrInvalidSafetensors, "parsing metadata: %v", err)
		}
		if hp, found := metadata[metadataHyperparameters]; found {
			if err := setHyperparameters(gctx, []byte(hp)); err != nil {
				return err
			}
		}
		delete(header, safetensorsMetadataKey)
	}

	dataStart := 8 + headerSize
	dataSize := size - dataStart
	keys := make([]string, 0, len(header))
	for key := range header {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		var info tensorInfo
		if err := json.Unmarshal(header[key], &info); err != nil {
			return errors.Wrapf(ErrInvalidSafetensors, "tensor %q: %v", key, err)
		}
		t, err := readTensor(f, dataStart, dataSize, info)
		if err != nil {
			return errors.WithMessagef(err, "tensor %q", key)
		}
		scope, name := splitVariableKey(key)
		gctx.InAbsPath(scope).VariableWithValue(name, t)
		klog.V(2).Infof("loaded %s: %s", key, t.Shape())
	}
	klog.V(1).Infof("loaded %d tensors from safetensors", len(keys))
	return nil
}

// setHyperparameters decodes a JSON Config and sets it in gctx. Missing keys take their default values.
func setHyperparameters(gctx *context.Context, data []byte) error {
	config := DefaultConfig()
	if err := json.Unmarshal(data, &config); err != nil {
		return errors.Wrapf(ErrInvalidSafetensors, "parsing hyperparameters: %v", err)
	}
	config.SetParams(gctx)
	return nil
}

func readTensor(f io.ReaderAt, dataStart, dataSize int64, info tensorInfo) (*tensors.Tensor, error) {
	dtype, err := parseDType(info.DType)
	if err != nil {
		return nil, err
	}
	begin, end := info.Offsets[0], info.Offsets[1]
	if begin < 0 || end < begin || end > dataSize {
		return nil, errors.Wrapf(ErrInvalidSafetensors, "offsets [%d, %d) out of data section of %d bytes", begin, end, dataSize)
	}
	shape := shapes.Make(dtype, info.Shape...)
	if int64(shape.Memory()) != end-begin {
		return nil, errors.Wrapf(ErrInvalidSafetensors, "shape %s needs %d bytes, got %d", shape, shape.Memory(), end-begin)
	}
	switch dtype {
	case dtypes.Float16, dtypes.BFloat16:
		raw := make([]byte, end-begin)
		if _, err := f.ReadAt(raw, dataStart+begin); err != nil {
			return nil, errors.Wrap(err, "reading data")
		}
		return halfToFloat32(dtype, raw, info.Shape), nil
	}
	t := tensors.FromShape(shape)
	var readErr error
	t.MutableBytes(func(data []byte) {
		_, readErr = f.ReadAt(data, dataStart+begin)
	})
	if readErr != nil {
		t.FinalizeAll()
		return nil, errors.Wrap(readErr, "reading data")
	}
	return t, nil
}

func halfToFloat32(dtype dtypes.DType, raw []byte, dims []int) *tensors.Tensor {
	values := make([]float32, len(raw)/2)
	for ii := range values {
		bits := binary.LittleEndian.Uint16(raw[2*ii:])
		if dtype == dtypes.Float16 {
			values[ii] = float16.Frombits(bits).Float32()
		} else {
			values[ii] = bfloat16.BFloat16(bits).Float32()
		}
	}
	return tensors.FromFlatDataAndDimensions(values, dims...)
}

var safetensorsDTypes = map[string]dtypes.DType{
	"F64":  dtypes.Float64,
	"F32":  dtypes.Float32,
	"F16":  dtypes.Float16,
	"BF16": dtypes.BFloat16,
	"I64":  dtypes.Int64,
	"I32":  dtypes.Int32,
	"I16":  dtypes.Int16,
	"I8":   dtypes.Int8,
	"U64":  dtypes.Uint64,
	"U32":  dtypes.Uint32,
	"U16":  dtypes.Uint16,
	"U8":   dtypes.Uint8,
	"BOOL": dtypes.Bool,
}

func parseDType(s string) (dtypes.DType, error) {
	dtype, found := safetensorsDTypes[s]
	if !found {
		return dtypes.InvalidDType, errors.Wrapf(ErrInvalidSafetensors, "unsupported dtype %q", s)
	}
	return dtype, nil
}

func dtypeName(dtype dtypes.DType) (string, error) {
	for name, dt := range safetensorsDTypes {
		if dt == dtype {
			return name, nil
		}
	}
	return "", errors.Errorf("dtype %s can't be saved in safetensors", dtype)
}

// SaveSafetensors writes all variables of gctx and the model hyperparameters to location
// (a local path or URL) in the safetensors format.
func SaveSafetensors(ctx gocontext.Context, gctx *context.Context, location string) error {
	var buf bytes.Buffer
	if err := WriteSafetensors(&buf, gctx); err != nil {
		return err
	}
	return storage.Write(ctx, location, buf.Bytes())
}

// WriteSafetensors writes all variables of gctx and the model hyperparameters to w.
func WriteSafetensors(w io.Writer, gctx *context.Context) error {
	hp, err := json.Marshal(ConfigFromContext(gctx))
	if err != nil {
		return errors.Wrap(err, "encoding hyperparameters")
	}
	header := map[string]any{
		safetensorsMetadataKey: map[string]string{
			metadataFormat:          formatName,
			metadataHyperparameters: string(hp),
		},
	}

	type entry struct {
		key string
		t   *tensors.Tensor
	}
	var entries []entry
	for v := range gctx.IterVariables() {
		t := v.Value()
		if t == nil {
			return errors.Errorf("variable %s has no value", v.ScopeAndName())
		}
		entries = append(entries, entry{key: VariableKey(v.Scope(), v.Name()), t: t})
	}
	slices.SortFunc(entries, func(a, b entry) int { return strings.Compare(a.key, b.key) })

	var offset int64
	for _, e := range entries {
		name, err := dtypeName(e.t.DType())
		if err != nil {
			return errors.WithMessagef(err, "variable %q", e.key)
		}
		size := int64(e.t.Shape().Memory())
		dims := e.t.Shape().Dimensions
		if dims == nil {
			dims = []int{}
		}
		header[e.key] = tensorInfo{DType: name, Shape: dims, Offsets: [2]int64{offset, offset + size}}
		offset += size
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "encoding header")
	}
	// Pad the header with spaces to keep the data section 8-byte aligned.
	if pad := len(headerBytes) % 8; pad != 0 {
		headerBytes = append(headerBytes, bytes.Repeat([]byte{' '}, 8-pad)...)
	}
	if len(headerBytes) > math.MaxInt32 {
		return errors.Errorf("header too large (%d bytes)", len(headerBytes))
	}

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "writing header size")
	}
	if _, err := w.Write(headerBytes); err != nil {
		return errors.Wrap(err, "writing header")
	}
	for _, e := range entries {
		var writeErr error
		e.t.ConstBytes(func(data []byte) {
			_, writeErr = w.Write(data)
		})
		if writeErr != nil {
			return errors.Wrapf(writeErr, "writing variable %q", e.key)
		}
	}
	return nil
}
