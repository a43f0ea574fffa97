package point

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/expect"
)

func TestOffsetsAndStride(t *testing.T) {
	c := NewContext()
	x, err := c.AssignDim("X", Float64)
	expect.NoError(t, err)
	y, err := c.AssignDim("Y", Float64)
	expect.NoError(t, err)
	i, err := c.AssignDim("Intensity", Uint16)
	expect.NoError(t, err)
	o, err := c.AssignDim(OriginDimName, Uint64)
	expect.NoError(t, err)

	expect.EQ(t, c.PointSize(), 26)
	expect.EQ(t, c.OffsetOf(x), 0)
	expect.EQ(t, c.OffsetOf(y), 8)
	expect.EQ(t, c.OffsetOf(i), 16)
	expect.EQ(t, c.OffsetOf(o), 18)

	// Every field fits within the stride, and the sizes sum to it.
	sum := 0
	for _, d := range c.Dims() {
		expect.LE(t, c.OffsetOf(d)+c.SizeOf(d), c.PointSize())
		sum += c.SizeOf(d)
	}
	expect.EQ(t, sum, c.PointSize())
}

func TestAssignErrors(t *testing.T) {
	c := NewContext()
	_, err := c.AssignDim("X", Float64)
	expect.NoError(t, err)
	_, err = c.AssignDim("X", Float64)
	expect.True(t, errors.Is(errors.Invalid, err))

	c.Freeze()
	_, err = c.AssignDim("Y", Float64)
	expect.True(t, errors.Is(errors.Precondition, err))
}

func TestPack(t *testing.T) {
	src := NewContext()
	_, _ = src.AssignDim("X", Float64)
	_, _ = src.AssignDim("Y", Float64)
	_, _ = src.AssignDim("Intensity", Uint16)

	dst := NewContext()
	_, _ = dst.AssignDim("X", Float64)
	_, _ = dst.AssignDim("Y", Float64)
	_, _ = dst.AssignDim("Z", Float64)
	_, _ = dst.AssignDim("Intensity", Uint16)
	od, err := dst.AssignDim(OriginDimName, Uint64)
	expect.NoError(t, err)

	rec := make([]byte, src.PointSize())
	binary.LittleEndian.PutUint64(rec[0:], math.Float64bits(1.5))
	binary.LittleEndian.PutUint64(rec[8:], math.Float64bits(-2.5))
	binary.LittleEndian.PutUint16(rec[16:], 777)

	out := make([]byte, dst.PointSize())
	for i := range out {
		out[i] = 0xff // ensure zero-fill is observable
	}
	dst.Pack(src, rec, 42, out)

	x, y := dst.XY(out)
	expect.EQ(t, x, 1.5)
	expect.EQ(t, y, -2.5)
	zd := dst.DimByName("Z")
	zOff := dst.OffsetOf(zd)
	expect.EQ(t, binary.LittleEndian.Uint64(out[zOff:]), uint64(0))
	id := dst.DimByName("Intensity")
	expect.EQ(t, binary.LittleEndian.Uint16(out[dst.OffsetOf(id):]), uint16(777))
	expect.EQ(t, binary.LittleEndian.Uint64(out[dst.OffsetOf(od):]), uint64(42))
}

func TestPackCopiesOriginFromSource(t *testing.T) {
	src := NewContext()
	_, _ = src.AssignDim("X", Float64)
	srcOrigin, _ := src.AssignDim(OriginDimName, Uint64)

	dst := NewContext()
	_, _ = dst.AssignDim("X", Float64)
	dstOrigin, _ := dst.AssignDim(OriginDimName, Uint64)

	rec := make([]byte, src.PointSize())
	binary.LittleEndian.PutUint64(rec[src.OffsetOf(srcOrigin):], 9)
	out := make([]byte, dst.PointSize())
	dst.Pack(src, rec, 42, out)
	// OriginId present in the source wins over the caller-supplied one.
	expect.EQ(t, binary.LittleEndian.Uint64(out[dst.OffsetOf(dstOrigin):]), uint64(9))
}

func TestStandardContext(t *testing.T) {
	c := StandardContext()
	expect.True(t, c.HasXY())
	expect.EQ(t, c.NumDims(), 10)
	expect.EQ(t, c.PointSize(), 8*3+1+2+2+1+1+1+1)
	expect.EQ(t, c.DimByName("Classification") != InvalidDim, true)
}

func TestXML(t *testing.T) {
	c := NewContext()
	_, _ = c.AssignDim("X", Float64)
	_, _ = c.AssignDim(OriginDimName, Uint64)
	doc := c.XML()
	expect.True(t, strings.Contains(doc, "<pointcloudschema>"))
	expect.True(t, strings.Contains(doc, "<name>X</name>"))
	expect.True(t, strings.Contains(doc, "<interpretation>double</interpretation>"))
	expect.True(t, strings.Contains(doc, "<interpretation>uint64_t</interpretation>"))
	expect.True(t, strings.Contains(doc, "<position>2</position>"))
}
