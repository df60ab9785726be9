package modelfile

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// maxHeaderSize bounds the JSON header read from untrusted files.
const maxHeaderSize = 100 << 20

const metadataKey = "__metadata__"

type tensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// tensor is a named float tensor. Data is kept in float32 precision.
type tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// numElements returns the product of the dimensions. ok is false for
// negative dimensions or when the product overflows int64.
func (t tensor) numElements() (n int64, ok bool) {
	n = 1
	for _, d := range t.Shape {
		if d < 0 {
			return 0, false
		}
		if d != 0 && n > math.MaxInt64/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}

// writeSafetensors writes a header of tensor descriptors followed by the raw
// little-endian F32 data, tensors sorted by name.
//
// [8 bytes: header size, uint64 LE][header JSON][tensor data]
func writeSafetensors(w io.Writer, tensors []tensor, metadata map[string]string) error {
	tensors = slices.Clone(tensors)
	slices.SortFunc(tensors, func(a, b tensor) int {
		return strings.Compare(a.Name, b.Name)
	})

	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	var offset int64
	for _, t := range tensors {
		if n, ok := t.numElements(); !ok || int64(len(t.Data)) != n {
			return fmt.Errorf("tensor %s: %d values for shape %v", t.Name, len(t.Data), t.Shape)
		}
		size := int64(len(t.Data)) * 4
		header[t.Name] = tensorHeader{
			DType:       "F32",
			Shape:       t.Shape,
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	bts, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(bts))); err != nil {
		return fmt.Errorf("write header size: %w", err)
	}
	if _, err := w.Write(bts); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, t := range tensors {
		buf := make([]byte, 4*len(t.Data))
		for i, v := range t.Data {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
		}
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write tensor %s: %w", t.Name, err)
		}
	}

	return nil
}

// readSafetensors parses a whole file image. Tensors of dtype F32, F64, F16
// and BF16 are converted to float32.
func readSafetensors(data []byte) (map[string]tensor, map[string]string, error) {
	if len(data) < 8 {
		return nil, nil, corrupt("file too short")
	}

	n := binary.LittleEndian.Uint64(data[:8])
	if n > maxHeaderSize {
		return nil, nil, corrupt("header size %d exceeds limit", n)
	}
	if n > uint64(len(data)-8) {
		return nil, nil, corrupt("header size %d exceeds file size", n)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+n], &raw); err != nil {
		return nil, nil, corrupt("header: %v", err)
	}

	body := data[8+n:]
	var metadata map[string]string
	tensors := make(map[string]tensor, len(raw))
	for name, msg := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &metadata); err != nil {
				return nil, nil, corrupt("metadata: %v", err)
			}
			continue
		}

		var h tensorHeader
		if err := json.Unmarshal(msg, &h); err != nil {
			return nil, nil, corrupt("tensor %s: %v", name, err)
		}

		t, err := decodeTensor(name, h, body)
		if err != nil {
			return nil, nil, err
		}
		tensors[name] = t
	}

	return tensors, metadata, nil
}

func decodeTensor(name string, h tensorHeader, body []byte) (tensor, error) {
	t := tensor{Name: name, Shape: h.Shape}
	for _, d := range h.Shape {
		if d < 0 {
			return t, corrupt("tensor %s: negative dimension", name)
		}
		if d > int64(len(body)) {
			return t, corrupt("tensor %s: dimension %d exceeds data size", name, d)
		}
	}
	elems, ok := t.numElements()
	if !ok || elems > int64(len(body)) {
		return t, corrupt("tensor %s: shape %v too large", name, h.Shape)
	}

	begin, end := h.DataOffsets[0], h.DataOffsets[1]
	if begin < 0 || end < begin || end > int64(len(body)) {
		return t, corrupt("tensor %s: offsets [%d, %d) out of range", name, begin, end)
	}
	raw := body[begin:end]

	var width int64
	switch h.DType {
	case "F32":
		width = 4
	case "F64":
		width = 8
	case "F16", "BF16":
		width = 2
	default:
		return t, corrupt("tensor %s: unsupported dtype %s", name, h.DType)
	}

	if int64(len(raw)) != elems*width {
		return t, corrupt("tensor %s: %d bytes for shape %v and dtype %s", name, len(raw), h.Shape, h.DType)
	}

	count := len(raw) / int(width)
	switch h.DType {
	case "F32":
		t.Data = make([]float32, count)
		for i := range t.Data {
			t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	case "F64":
		t.Data = make([]float32, count)
		for i := range t.Data {
			t.Data[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:])))
		}
	case "F16":
		t.Data = make([]float32, count)
		for i := range t.Data {
			t.Data[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[2*i:])).Float32()
		}
	case "BF16":
		t.Data = bfloat16.DecodeFloat32(raw)
	}

	return t, nil
}
