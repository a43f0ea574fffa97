package sleepytree

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/pointcloud/encoding/point"
	"github.com/grailbio/pointcloud/geom"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func xyContext(t *testing.T) *point.Context {
	ctx := point.NewContext()
	_, err := ctx.AssignDim("X", point.Float64)
	require.NoError(t, err)
	_, err = ctx.AssignDim("Y", point.Float64)
	require.NoError(t, err)
	return ctx
}

func TestSaveLoadRoundTrip(t *testing.T) {
	root, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	cfg := Config{
		PipelineID: "rt",
		Bounds:     geom.BBox{XMin: 0, YMin: 0, XMax: 10, YMax: 10},
		Context:    xyContext(t),
		BaseDepth:  3,
		SerialRoot: root,
	}
	tree, err := New(cfg)
	require.NoError(t, err)
	tree.Insert(newTestBuffer(
		geom.Point{X: 1, Y: 1}, geom.Point{X: 2, Y: 2}, geom.Point{X: 3, Y: 3}), 7)

	ctx := context.Background()
	require.NoError(t, tree.Save(ctx, ""))

	loaded, err := Load(ctx, Config{
		PipelineID: "rt",
		Context:    xyContext(t),
		SerialRoot: root,
	})
	require.NoError(t, err)
	expect.EQ(t, loaded.Bounds(), tree.Bounds())
	expect.EQ(t, loaded.NumPoints(), int64(3))
	// The loaded band depth comes from the page size, not the config.
	expect.EQ(t, loaded.BaseDepth(), 3)

	want, err := tree.GetPoints(0, 100)
	require.NoError(t, err)
	got, err := loaded.GetPoints(0, 100)
	require.NoError(t, err)
	require.Equal(t, len(want), len(got))
	for i := range want {
		expect.EQ(t, got[i].Point, want[i].Point)
		expect.True(t, bytes.Equal(got[i].Bytes, want[i].Bytes))
	}
}

func TestLoadedTreeStillAcceptsInserts(t *testing.T) {
	root, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	cfg := Config{
		PipelineID: "grow",
		Bounds:     geom.BBox{XMin: 0, YMin: 0, XMax: 10, YMax: 10},
		Context:    xyContext(t),
		BaseDepth:  3,
		SerialRoot: root,
	}
	tree, err := New(cfg)
	require.NoError(t, err)
	tree.Insert(newTestBuffer(geom.Point{X: 1, Y: 1}), 1)
	require.NoError(t, tree.Save(context.Background(), ""))

	loaded, err := Load(context.Background(), Config{
		PipelineID: "grow", Context: xyContext(t), SerialRoot: root,
	})
	require.NoError(t, err)
	loaded.Insert(newTestBuffer(geom.Point{X: 2, Y: 2}), 2)
	all, err := loaded.GetPoints(0, 100)
	require.NoError(t, err)
	expect.EQ(t, len(all), 2)
}

func TestLoadCorruptHeader(t *testing.T) {
	root, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	dir := filepath.Join(root, "short")
	require.NoError(t, ioutil.WriteFile(mustMkdir(t, dir), make([]byte, 20), 0644))

	_, err := Load(context.Background(), Config{
		PipelineID: "short", Context: xyContext(t), SerialRoot: root,
	})
	expect.True(t, errors.Is(errors.Integrity, err))
}

func TestLoadSizeMismatch(t *testing.T) {
	root, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	cfg := Config{
		PipelineID: "trunc",
		Bounds:     geom.BBox{XMin: 0, YMin: 0, XMax: 1, YMax: 1},
		Context:    xyContext(t),
		BaseDepth:  2,
		SerialRoot: root,
	}
	tree, err := New(cfg)
	require.NoError(t, err)
	tree.Insert(newTestBuffer(geom.Point{X: 0.5, Y: 0.5}), 1)
	require.NoError(t, tree.Save(context.Background(), ""))

	path := SerialPath(root, "trunc")
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, ioutil.WriteFile(path, data[:len(data)-1], 0644))

	_, err = Load(context.Background(), Config{
		PipelineID: "trunc", Context: xyContext(t), SerialRoot: root,
	})
	expect.True(t, errors.Is(errors.Integrity, err))
}

func TestLoadCorruptPayload(t *testing.T) {
	root, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	cfg := Config{
		PipelineID: "garbage",
		Bounds:     geom.BBox{XMin: 0, YMin: 0, XMax: 1, YMax: 1},
		Context:    xyContext(t),
		BaseDepth:  2,
		SerialRoot: root,
	}
	tree, err := New(cfg)
	require.NoError(t, err)
	tree.Insert(newTestBuffer(geom.Point{X: 0.5, Y: 0.5}), 1)
	require.NoError(t, tree.Save(context.Background(), ""))

	path := SerialPath(root, "garbage")
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	for i := headerSize; i < len(data); i++ {
		data[i] ^= 0xa5
	}
	require.NoError(t, ioutil.WriteFile(path, data, 0644))

	_, err = Load(context.Background(), Config{
		PipelineID: "garbage", Context: xyContext(t), SerialRoot: root,
	})
	expect.True(t, errors.Is(errors.Integrity, err))
}

// mustMkdir creates dir and returns the serialized-tree path within it.
func mustMkdir(t *testing.T, dir string) string {
	require.NoError(t, os.MkdirAll(dir, 0755))
	return filepath.Join(dir, "0")
}
