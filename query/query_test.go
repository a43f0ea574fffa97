package query

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/grailbio/pointcloud/encoding/point"
	"github.com/grailbio/pointcloud/geom"
	"github.com/grailbio/pointcloud/sleepytree"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func testResults(t *testing.T, n int) ([]sleepytree.PointInfo, *point.Context) {
	ctx := point.NewContext()
	_, err := ctx.AssignDim("X", point.Float64)
	require.NoError(t, err)
	_, err = ctx.AssignDim("Y", point.Float64)
	require.NoError(t, err)
	_, err = ctx.AssignDim(point.OriginDimName, point.Uint64)
	require.NoError(t, err)

	var results []sleepytree.PointInfo
	for i := 0; i < n; i++ {
		rec := make([]byte, ctx.PointSize())
		binary.LittleEndian.PutUint64(rec[0:], math.Float64bits(float64(i)))
		binary.LittleEndian.PutUint64(rec[8:], math.Float64bits(float64(i)*2))
		binary.LittleEndian.PutUint64(rec[16:], uint64(i))
		results = append(results, sleepytree.PointInfo{
			Point: geom.Point{X: float64(i), Y: float64(i) * 2},
			Bytes: rec,
		})
	}
	return results, ctx
}

func TestCursor(t *testing.T) {
	results, ctx := testResults(t, 3)
	q := New(results, ctx)
	expect.EQ(t, q.NumPoints(), 3)
	expect.False(t, q.Eof())

	dst := make([]byte, ctx.PointSize())
	for i := 0; i < 3; i++ {
		n := q.ReadPoint(dst, ctx, false)
		expect.EQ(t, n, ctx.PointSize())
		expect.True(t, bytes.Equal(dst, results[i].Bytes))
	}
	expect.True(t, q.Eof())
}

func TestReadPointProjection(t *testing.T) {
	results, ctx := testResults(t, 1)

	// Project into a narrower schema that drops Y and adds Z.
	out := point.NewContext()
	_, err := out.AssignDim("X", point.Float64)
	require.NoError(t, err)
	_, err = out.AssignDim("Z", point.Float64)
	require.NoError(t, err)

	q := New(results, ctx)
	dst := make([]byte, out.PointSize())
	n := q.ReadPoint(dst, out, false)
	expect.EQ(t, n, out.PointSize())
	expect.EQ(t, math.Float64frombits(binary.LittleEndian.Uint64(dst[0:])), 0.0)
	expect.EQ(t, binary.LittleEndian.Uint64(dst[8:]), uint64(0)) // Z zero-filled
}

func TestPackAll(t *testing.T) {
	results, ctx := testResults(t, 2500) // spans multiple chunks
	q := New(results, ctx)
	dst := make([]byte, len(results)*ctx.PointSize())
	require.NoError(t, q.PackAll(dst))
	expect.True(t, q.Eof())
	for i, r := range results {
		got := dst[i*ctx.PointSize() : (i+1)*ctx.PointSize()]
		if !bytes.Equal(got, r.Bytes) {
			t.Fatalf("record %d differs", i)
		}
	}
}

func TestPackAllAfterRead(t *testing.T) {
	results, ctx := testResults(t, 10)
	q := New(results, ctx)
	dst := make([]byte, ctx.PointSize())
	q.ReadPoint(dst, ctx, false)

	rest := make([]byte, 9*ctx.PointSize())
	require.NoError(t, q.PackAll(rest))
	expect.True(t, bytes.Equal(rest[:ctx.PointSize()], results[1].Bytes))
}
