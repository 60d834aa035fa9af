package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Classic netCDF header tags and external types.
const (
	cdfDimension = 0x0A
	cdfVariable  = 0x0B
	cdfAttribute = 0x0C

	cdfStreaming = 0xFFFFFFFF
)

var (
	cdfMagic  = []byte("CDF")
	hdf5Magic = []byte("\x89HDF\r\n\x1a\n")

	errHDF5 = errors.New("netCDF-4/HDF5 files are not supported")
)

type cdfType int32

var cdfTypes = map[cdfType]struct {
	name string
	size int
}{
	1:  {"byte", 1},
	2:  {"char", 1},
	3:  {"short", 2},
	4:  {"int", 4},
	5:  {"float", 4},
	6:  {"double", 8},
	7:  {"ubyte", 1},
	8:  {"ushort", 2},
	9:  {"uint", 4},
	10: {"int64", 8},
	11: {"uint64", 8},
}

func (t cdfType) String() string { return cdfTypes[t].name }
func (t cdfType) size() int { return cdfTypes[t].size }

type cdfDim struct {
	Name      string
	Length    int64
	Unlimited bool
}

type cdfAttr struct {
	Name  string
	Type  cdfType
	Value any
}

type cdfVar struct {
	Name   string
	Dims   []int
	Attrs  []cdfAttr
	Type   cdfType
	VSize  int64
	Begin  int64
	record bool
}

// cdfFile is a decoded classic (CDF-1/2/5) header plus the raw bytes for
// reading coordinate variables.
type cdfFile struct {
	Version    byte
	NumRecs    int64
	Dims       []cdfDim
	Attrs      []cdfAttr
	Vars       []cdfVar
	data       []byte
	recordSize int64
}

func parseCDF(data []byte) (*cdfFile, error) {
	if bytes.HasPrefix(data, hdf5Magic) {
		return nil, errHDF5
	}
	if len(data) < 4 || !bytes.HasPrefix(data, cdfMagic) {
		return nil, errors.New("not a netCDF file")
	}
	version := data[3]
	if version != 1 && version != 2 && version != 5 {
		return nil, fmt.Errorf("unsupported netCDF version %d", version)
	}

	r := &cdfReader{data: data, off: 4, wide: version == 5}
	f := &cdfFile{Version: version, data: data}
	if r.wide {
		f.NumRecs = r.int64()
	} else {
		n := r.uint32()
		if n != cdfStreaming {
			f.NumRecs = int64(n)
		}
	}

	r.list(cdfDimension, func() {
		d := cdfDim{Name: r.name(), Length: r.count()}
		d.Unlimited = d.Length == 0
		f.Dims = append(f.Dims, d)
	})
	f.Attrs = r.attrs()
	r.list(cdfVariable, func() {
		v := cdfVar{Name: r.name()}
		ndims := r.count()
		for i := int64(0); i < ndims && r.err == nil; i++ {
			v.Dims = append(v.Dims, int(r.count()))
		}
		v.Attrs = r.attrs()
		v.Type = cdfType(r.int32())
		v.VSize = r.count()
		if version == 1 {
			v.Begin = int64(r.uint32())
		} else {
			v.Begin = r.int64()
		}
		f.Vars = append(f.Vars, v)
	})
	if r.err != nil {
		return nil, fmt.Errorf("invalid netCDF header: %w", r.err)
	}

	var records []*cdfVar
	for i := range f.Vars {
		v := &f.Vars[i]
		if v.Type.size() == 0 {
			return nil, fmt.Errorf("variable %s has unknown type %d", v.Name, v.Type)
		}
		for _, id := range v.Dims {
			if id < 0 || id >= len(f.Dims) {
				return nil, fmt.Errorf("variable %s references dimension %d", v.Name, id)
			}
		}
		if len(v.Dims) > 0 && f.Dims[v.Dims[0]].Unlimited {
			v.record = true
			records = append(records, v)
			f.recordSize += v.VSize
		}
	}
	// A lone record variable is not padded.
	if len(records) == 1 {
		f.recordSize = f.recordLength(records[0])
	}
	return f, nil
}

func (f *cdfFile) recordLength(v *cdfVar) int64 {
	n := int64(v.Type.size())
	for _, id := range v.Dims[1:] {
		n *= f.Dims[id].Length
	}
	return n
}

func (f *cdfFile) dimLength(id int) int64 {
	if f.Dims[id].Unlimited {
		return f.NumRecs
	}
	return f.Dims[id].Length
}

func (f *cdfFile) variable(name string) *cdfVar {
	for i := range f.Vars {
		if f.Vars[i].Name == name {
			return &f.Vars[i]
		}
	}
	return nil
}

// values reads a one-dimensional numeric variable as float64.
func (f *cdfFile) values(v *cdfVar) ([]float64, error) {
	if len(v.Dims) != 1 || v.Type == 2 {
		return nil, fmt.Errorf("variable %s is not a numeric 1-D variable", v.Name)
	}
	n := f.dimLength(v.Dims[0])
	size := int64(v.Type.size())
	out := make([]float64, 0, n)
	for i := int64(0); i < n; i++ {
		off := v.Begin + i*size
		if v.record {
			off = v.Begin + i*f.recordSize
		}
		if off < 0 || off+size > int64(len(f.data)) {
			return nil, fmt.Errorf("variable %s data out of range", v.Name)
		}
		out = append(out, decodeNumber(v.Type, f.data[off:off+size]))
	}
	return out, nil
}

func decodeNumber(t cdfType, b []byte) float64 {
	be := binary.BigEndian
	switch t {
	case 1:
		return float64(int8(b[0]))
	case 7:
		return float64(b[0])
	case 3:
		return float64(int16(be.Uint16(b)))
	case 8:
		return float64(be.Uint16(b))
	case 4:
		return float64(int32(be.Uint32(b)))
	case 9:
		return float64(be.Uint32(b))
	case 5:
		return float64(math.Float32frombits(be.Uint32(b)))
	case 6:
		return math.Float64frombits(be.Uint64(b))
	case 10:
		return float64(int64(be.Uint64(b)))
	case 11:
		return float64(be.Uint64(b))
	}
	return math.NaN()
}

func attr(attrs []cdfAttr, name string) (cdfAttr, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a, true
		}
	}
	return cdfAttr{}, false
}

func (a cdfAttr) String() string {
	if s, ok := a.Value.(string); ok {
		return s
	}
	return ""
}

func (a cdfAttr) Float() (float64, bool) {
	switch v := a.Value.(type) {
	case float64:
		return v, finite(v)
	case []float64:
		if len(v) > 0 {
			return v[0], finite(v[0])
		}
	case string:
		var f float64
		if _, err := fmt.Sscan(strings.TrimSpace(v), &f); err == nil {
			return f, finite(f)
		}
	}
	return 0, false
}

type cdfReader struct {
	data []byte
	off  int
	wide bool
	err  error
}

func (r *cdfReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = errors.New("unexpected end of header")
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *cdfReader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *cdfReader) int32() int32 { return int32(r.uint32()) }

func (r *cdfReader) int64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// count reads a NON_NEG: 32 bit in CDF-1/2, 64 bit in CDF-5.
func (r *cdfReader) count() int64 {
	var n int64
	if r.wide {
		n = r.int64()
	} else {
		n = int64(r.uint32())
	}
	if n < 0 || n > int64(len(r.data)) {
		if r.err == nil {
			r.err = fmt.Errorf("implausible count %d", n)
		}
		return 0
	}
	return n
}

func pad4(n int) int {
	return (n + 3) &^ 3
}

func (r *cdfReader) name() string {
	n := int(r.count())
	b := r.take(pad4(n))
	if b == nil {
		return ""
	}
	return string(b[:n])
}

// list reads ABSENT or tag, nelems, elements.
func (r *cdfReader) list(tag uint32, each func()) {
	t := r.uint32()
	n := r.count()
	if r.err != nil {
		return
	}
	if t == 0 && n == 0 {
		return
	}
	if t != tag {
		r.err = fmt.Errorf("expected tag %#x, got %#x", tag, t)
		return
	}
	for i := int64(0); i < n && r.err == nil; i++ {
		each()
	}
}

func (r *cdfReader) attrs() []cdfAttr {
	var out []cdfAttr
	r.list(cdfAttribute, func() {
		a := cdfAttr{Name: r.name(), Type: cdfType(r.int32())}
		n := int(r.count())
		size := a.Type.size()
		if size == 0 {
			r.err = fmt.Errorf("attribute %s has unknown type %d", a.Name, a.Type)
			return
		}
		b := r.take(pad4(n * size))
		if b == nil {
			return
		}
		if a.Type == 2 {
			a.Value = strings.TrimRight(string(b[:n]), "\x00")
		} else {
			vals := make([]float64, n)
			for i := range vals {
				vals[i] = decodeNumber(a.Type, b[i*size:(i+1)*size])
			}
			if n == 1 {
				a.Value = vals[0]
			} else {
				a.Value = vals
			}
		}
		out = append(out, a)
	})
	return out
}
