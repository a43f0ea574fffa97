package laz

import (
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/pointcloud/encoding/point"
	"github.com/klauspost/compress/flate"
)

// Codec compresses and decompresses pages of fixed-stride point
// records.  It is configured with the schema's dimension-type sequence;
// the page is rearranged into per-dimension byte planes (each plane
// holds one field of every record, contiguously) before DEFLATE, which
// lets runs of similar field bytes compress together the way LAZ-family
// coders arrange them.
type Codec struct {
	types  []point.Type
	stride int
}

// NewCodec returns a codec for the given dimension-type sequence.
func NewCodec(types []point.Type) *Codec {
	c := &Codec{types: types}
	for _, t := range types {
		c.stride += t.Size
	}
	return c
}

// Stride returns the byte length of one record under this codec.
func (c *Codec) Stride() int { return c.stride }

// Compress appends the compressed form of page to dst.  The page length
// must be a whole number of records.
func (c *Codec) Compress(page []byte, dst *Stream) error {
	if c.stride == 0 || len(page)%c.stride != 0 {
		return errors.E(errors.Invalid,
			fmt.Sprintf("laz: page of %d bytes is not a whole number of %d-byte records", len(page), c.stride))
	}
	fw, err := flate.NewWriter(dst, flate.BestSpeed)
	if err != nil {
		return err
	}
	if _, err := fw.Write(c.transpose(page)); err != nil {
		return err
	}
	return fw.Close()
}

// Decompress reads one compressed page from src and returns the
// original page of uncompressedSize bytes.  Failures to produce exactly
// that many bytes are Integrity errors.
func (c *Codec) Decompress(src *Stream, uncompressedSize int) ([]byte, error) {
	if c.stride == 0 || uncompressedSize%c.stride != 0 {
		return nil, errors.E(errors.Integrity,
			fmt.Sprintf("laz: uncompressed size %d is not a whole number of %d-byte records", uncompressedSize, c.stride))
	}
	fr := flate.NewReader(src)
	planes := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(fr, planes); err != nil {
		return nil, errors.E(errors.Integrity, "laz: decompress", err)
	}
	fr.Close() // nolint: errcheck
	return c.untranspose(planes), nil
}

// transpose rearranges a record-major page into dimension-major planes.
func (c *Codec) transpose(page []byte) []byte {
	n := len(page) / c.stride
	out := make([]byte, len(page))
	planeBase := 0
	fieldOff := 0
	for _, t := range c.types {
		for i := 0; i < n; i++ {
			copy(out[planeBase+i*t.Size:], page[i*c.stride+fieldOff:i*c.stride+fieldOff+t.Size])
		}
		planeBase += n * t.Size
		fieldOff += t.Size
	}
	return out
}

// untranspose is the exact inverse of transpose.
func (c *Codec) untranspose(planes []byte) []byte {
	n := len(planes) / c.stride
	out := make([]byte, len(planes))
	planeBase := 0
	fieldOff := 0
	for _, t := range c.types {
		for i := 0; i < n; i++ {
			copy(out[i*c.stride+fieldOff:], planes[planeBase+i*t.Size:planeBase+(i+1)*t.Size])
		}
		planeBase += n * t.Size
		fieldOff += t.Size
	}
	return out
}
