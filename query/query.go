// Package query provides the cursor used to drain a materialized read
// result into caller-owned buffers.
package query

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/pointcloud/encoding/point"
	"github.com/grailbio/pointcloud/sleepytree"
)

// packChunk is the number of records one goroutine packs at a time in
// PackAll.
const packChunk = 1024

// Query is a cursor over a materialized list of point results.  The
// results hold private byte copies, so a query stays valid while the
// tree that produced it keeps mutating.
type Query struct {
	results []sleepytree.PointInfo
	pctx    *point.Context
	index   int
}

// New returns a cursor at position zero.  pctx is the layout of the
// result records.
func New(results []sleepytree.PointInfo, pctx *point.Context) *Query {
	return &Query{results: results, pctx: pctx}
}

// NumPoints returns the number of addressable points.
func (q *Query) NumPoints() int { return len(q.results) }

// Eof reports whether the cursor has passed the last point.
func (q *Query) Eof() bool { return q.index >= len(q.results) }

// Index returns the cursor position.
func (q *Query) Index() int { return q.index }

// Stride returns the packed size of one record under the query's own
// layout.
func (q *Query) Stride() int { return q.pctx.PointSize() }

// ReadPoint copies the current record's fields into dst in schema
// order and advances the cursor, returning the number of bytes
// written.  When pctx differs from the query's layout the record is
// projected dimension by dimension; matching layouts are copied
// whole.  The rasterize flag is carried for protocol compatibility and
// has no effect on the packing.
func (q *Query) ReadPoint(dst []byte, pctx *point.Context, rasterize bool) int {
	if q.Eof() {
		log.Panicf("query: ReadPoint past EOF (%d points)", len(q.results))
	}
	rec := q.results[q.index].Bytes
	q.index++
	if pctx == q.pctx {
		return copy(dst, rec)
	}
	pctx.Pack(q.pctx, rec, 0, dst)
	return pctx.PointSize()
}

// PackAll copies every remaining record into dst, which must hold at
// least (NumPoints - Index) * Stride bytes, and advances the cursor to
// EOF.  Records are packed in result order; chunks are filled in
// parallel.
func (q *Query) PackAll(dst []byte) error {
	rest := q.results[q.index:]
	stride := q.pctx.PointSize()
	if len(dst) < len(rest)*stride {
		log.Panicf("query: PackAll destination holds %d bytes, need %d", len(dst), len(rest)*stride)
	}
	nChunks := (len(rest) + packChunk - 1) / packChunk
	err := traverse.Each(nChunks, func(ci int) error {
		begin := ci * packChunk
		end := begin + packChunk
		if end > len(rest) {
			end = len(rest)
		}
		for i := begin; i < end; i++ {
			copy(dst[i*stride:(i+1)*stride], rest[i].Bytes)
		}
		return nil
	})
	q.index = len(q.results)
	return err
}
