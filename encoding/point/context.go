// Package point implements the dynamic record layout used by the
// spatial point store.  A Context is an ordered set of typed dimensions;
// it fixes a byte offset for every dimension and packs heterogeneous
// source rows into fixed-stride records.
package point

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// OriginDimName is the reserved dimension populated by the tree façade
// rather than by the input buffer.  It tags every record with the ingest
// call that produced it.
const OriginDimName = "OriginId"

// Dim is a handle for one registered dimension of a Context.
type Dim int

// InvalidDim is returned by DimByName for names that were never
// assigned.
const InvalidDim Dim = -1

type dimInfo struct {
	name   string
	typ    Type
	offset int
}

// Context is an ordered, append-only sequence of typed dimensions.  The
// order of registration is stable and determines field offsets: the
// field of dimension d begins at the sum of the sizes of all earlier
// dimensions.  A context freezes when the first record is committed;
// further AssignDim calls fail.
//
// Contexts are safe for concurrent readers once frozen.  AssignDim and
// Freeze serialize on an internal lock.
type Context struct {
	mu     sync.Mutex
	dims   []dimInfo
	byName map[string]Dim
	size   int
	frozen bool
}

// NewContext returns an empty, unfrozen context.
func NewContext() *Context {
	return &Context{byName: make(map[string]Dim)}
}

// StandardContext returns the default pipeline layout: X, Y, Z as
// doubles followed by the usual LAS attribute dimensions.  The caller
// may append further dimensions (typically OriginId) before the first
// commit.
func StandardContext() *Context {
	c := NewContext()
	for _, d := range []struct {
		name string
		typ  Type
	}{
		{"X", Float64},
		{"Y", Float64},
		{"Z", Float64},
		{"ScanAngleRank", Int8},
		{"Intensity", Uint16},
		{"PointSourceId", Uint16},
		{"ReturnNumber", Uint8},
		{"NumberOfReturns", Uint8},
		{"ScanDirectionFlag", Uint8},
		{"Classification", Uint8},
	} {
		if _, err := c.AssignDim(d.name, d.typ); err != nil {
			log.Panicf("point: standard context: %v", err)
		}
	}
	return c
}

// AssignDim appends a dimension and returns its handle.  It fails with
// a Precondition error once the context is frozen and with an Invalid
// error on a duplicate name.
func (c *Context) AssignDim(name string, typ Type) (Dim, error) {
	if !typ.valid() {
		return InvalidDim, errors.E(errors.Invalid, "point: unsupported dimension type for "+name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return InvalidDim, errors.E(errors.Precondition, "point: schema is frozen, cannot assign "+name)
	}
	if _, ok := c.byName[name]; ok {
		return InvalidDim, errors.E(errors.Invalid, "point: duplicate dimension "+name)
	}
	d := Dim(len(c.dims))
	c.dims = append(c.dims, dimInfo{name: name, typ: typ, offset: c.size})
	c.byName[name] = d
	c.size += typ.Size
	return d, nil
}

// Freeze marks the schema immutable.  It is idempotent and is called by
// the store when the first record commits.
func (c *Context) Freeze() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
}

// Frozen reports whether the schema has been frozen.
func (c *Context) Frozen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frozen
}

// NumDims returns the number of registered dimensions.
func (c *Context) NumDims() int { return len(c.dims) }

// Dims returns the handles of all dimensions in registration order.
func (c *Context) Dims() []Dim {
	ds := make([]Dim, len(c.dims))
	for i := range ds {
		ds[i] = Dim(i)
	}
	return ds
}

// DimTypes returns the type sequence in registration order.  The
// compression codec is configured with this sequence.
func (c *Context) DimTypes() []Type {
	ts := make([]Type, len(c.dims))
	for i := range ts {
		ts[i] = c.dims[i].typ
	}
	return ts
}

// PointSize returns the stride: the byte length of one packed record.
func (c *Context) PointSize() int { return c.size }

// OffsetOf returns the byte offset of d within a packed record.
func (c *Context) OffsetOf(d Dim) int { return c.dims[d].offset }

// SizeOf returns the byte size of d's field.
func (c *Context) SizeOf(d Dim) int { return c.dims[d].typ.Size }

// TypeOf returns d's type tag.
func (c *Context) TypeOf(d Dim) Type { return c.dims[d].typ }

// NameOf returns d's registered name.
func (c *Context) NameOf(d Dim) string { return c.dims[d].name }

// DimByName returns the handle for name, or InvalidDim.
func (c *Context) DimByName(name string) Dim {
	if d, ok := c.byName[name]; ok {
		return d
	}
	return InvalidDim
}

// HasXY reports whether the context carries X and Y dimensions of type
// Float64, the requirement for spatial indexing.
func (c *Context) HasXY() bool {
	for _, name := range []string{"X", "Y"} {
		d := c.DimByName(name)
		if d == InvalidDim || c.dims[d].typ != Float64 {
			return false
		}
	}
	return true
}

// XY decodes the spatial key of a packed record.  The context must
// carry Float64 X and Y dimensions (see HasXY).
func (c *Context) XY(rec []byte) (x, y float64) {
	xd, yd := c.DimByName("X"), c.DimByName("Y")
	if xd == InvalidDim || yd == InvalidDim {
		log.Panicf("point: XY called on a context without X/Y dimensions")
	}
	x = math.Float64frombits(binary.LittleEndian.Uint64(rec[c.dims[xd].offset:]))
	y = math.Float64frombits(binary.LittleEndian.Uint64(rec[c.dims[yd].offset:]))
	return x, y
}

// Pack copies one source record into dst, which must hold at least
// PointSize bytes.  Dimensions present in both contexts are copied
// byte-for-byte when their types agree.  The reserved OriginId
// dimension, when absent from the source, is filled from origin.  All
// other missing dimensions are zero-filled.
func (c *Context) Pack(src *Context, rec []byte, origin uint64, dst []byte) {
	if len(dst) < c.size {
		log.Panicf("point: Pack destination holds %d bytes, stride is %d", len(dst), c.size)
	}
	for i := range c.dims {
		di := &c.dims[i]
		field := dst[di.offset : di.offset+di.typ.Size]
		if sd := src.DimByName(di.name); sd != InvalidDim && src.dims[sd].typ == di.typ {
			so := src.dims[sd].offset
			copy(field, rec[so:so+di.typ.Size])
			continue
		}
		if di.name == OriginDimName && di.typ == Uint64 {
			binary.LittleEndian.PutUint64(field, origin)
			continue
		}
		for j := range field {
			field[j] = 0
		}
	}
}
