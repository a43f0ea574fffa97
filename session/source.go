package session

import (
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/pointcloud/encoding/point"
	"github.com/grailbio/pointcloud/geom"
	"github.com/grailbio/pointcloud/sleepytree"
)

// Source is the ingest-side collaborator: a materialized buffer of
// packed point rows produced by executing a pipeline.  It is the
// tree's Buffer plus nothing; the alias exists so callers outside the
// store read naturally.
type Source = sleepytree.Buffer

// SourceFactory executes a pipeline description and returns its point
// buffer together with the region the session should index.  debug and
// verbose are passed through from the create request.
type SourceFactory func(pipeline string, debug bool, verbose int) (Source, geom.BBox, error)

// BufferSource is an in-memory Source over a single packed buffer.
type BufferSource struct {
	pctx   *point.Context
	data   []byte
	stride int
}

// NewBufferSource wraps data, which must be a whole number of
// pctx-packed rows.
func NewBufferSource(pctx *point.Context, data []byte) (*BufferSource, error) {
	stride := pctx.PointSize()
	if stride == 0 || len(data)%stride != 0 {
		return nil, errors.E(errors.Invalid, "session: buffer is not a whole number of rows")
	}
	return &BufferSource{pctx: pctx, data: data, stride: stride}, nil
}

// Len returns the number of rows.
func (b *BufferSource) Len() int { return len(b.data) / b.stride }

// Context describes the row layout.
func (b *BufferSource) Context() *point.Context { return b.pctx }

// Row returns the i'th packed row.
func (b *BufferSource) Row(i int) []byte {
	return b.data[i*b.stride : (i+1)*b.stride]
}

// fauxPipeline is the JSON accepted by FauxSourceFactory: a stand-in
// for a real pipeline reader, generating a deterministic grid of
// points.
type fauxPipeline struct {
	Type      string     `json:"type"`
	NumPoints int        `json:"numPoints"`
	Bounds    [4]float64 `json:"bounds"`
}

// FauxSourceFactory accepts pipelines of the form
//
//	{"type": "faux", "numPoints": N, "bounds": [xMin, yMin, xMax, yMax]}
//
// and produces N standard-layout points on a row-major grid spanning
// the bounds.  All attribute dimensions are zero.  It exists so a
// session binary can run without a real pipeline reader attached.
func FauxSourceFactory(pipeline string, debug bool, verbose int) (Source, geom.BBox, error) {
	var p fauxPipeline
	if err := json.Unmarshal([]byte(pipeline), &p); err != nil {
		return nil, geom.BBox{}, errors.E(errors.Invalid, "session: bad pipeline", err)
	}
	if p.Type != "faux" {
		return nil, geom.BBox{}, errors.E(errors.NotSupported,
			"session: no reader for pipeline type "+p.Type)
	}
	if p.NumPoints <= 0 {
		return nil, geom.BBox{}, errors.E(errors.Invalid, "session: numPoints must be positive")
	}
	bounds := geom.BBox{XMin: p.Bounds[0], YMin: p.Bounds[1], XMax: p.Bounds[2], YMax: p.Bounds[3]}
	if bounds.XMax < bounds.XMin || bounds.YMax < bounds.YMin {
		return nil, geom.BBox{}, errors.E(errors.Invalid, "session: inverted bounds")
	}

	pctx := point.StandardContext()
	stride := pctx.PointSize()
	side := int(math.Ceil(math.Sqrt(float64(p.NumPoints))))
	step := func(min, max float64) float64 {
		if side <= 1 {
			return 0
		}
		return (max - min) / float64(side-1)
	}
	dx, dy := step(bounds.XMin, bounds.XMax), step(bounds.YMin, bounds.YMax)
	xOff := pctx.OffsetOf(pctx.DimByName("X"))
	yOff := pctx.OffsetOf(pctx.DimByName("Y"))

	data := make([]byte, p.NumPoints*stride)
	for i := 0; i < p.NumPoints; i++ {
		row := data[i*stride : (i+1)*stride]
		x := bounds.XMin + float64(i%side)*dx
		y := bounds.YMin + float64(i/side)*dy
		binary.LittleEndian.PutUint64(row[xOff:], math.Float64bits(x))
		binary.LittleEndian.PutUint64(row[yOff:], math.Float64bits(y))
	}
	src, err := NewBufferSource(pctx, data)
	if err != nil {
		return nil, geom.BBox{}, err
	}
	return src, bounds, nil
}
