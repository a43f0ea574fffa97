package sleepytree

import (
	"context"
	"encoding/binary"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/pointcloud/encoding/laz"
	"github.com/grailbio/pointcloud/geom"
	"github.com/minio/highwayhash"
)

// DefaultSerialRoot is where serialized trees live unless a tree is
// configured otherwise.  Tree files for pipeline P go to
// <root>/<P>/0.
const DefaultSerialRoot = "/var/greyhound/serial"

// headerSize is the framed-file header: four float64 bounds plus the
// uncompressed and compressed payload sizes, all little-endian.
const headerSize = 8*4 + 8*2

// pageDigestKey keys the base-page digest logged on save and load, so
// the two ends of a round trip can be compared in the logs.
var pageDigestKey = make([]byte, 32)

// SerialPath returns the serialized-tree location for a pipeline under
// the given root.  The root may be a local directory or a URL.
func SerialPath(root, pipelineID string) string {
	return file.Join(root, pipelineID, "0")
}

// Save writes the tree's base band to path as a framed file: the bounds
// and payload sizes, then the base page compressed by the codec
// configured with the schema's dimension types.  An empty path selects
// the tree's default serial location.
//
// Only the base band is persisted; overflow lists beyond it are not.
// The tree remains fully usable, and mutable, after Save.
func (t *Tree) Save(ctx context.Context, path string) error {
	if path == "" {
		path = SerialPath(t.serialRoot, t.pipelineID)
	}
	page := t.sleeper.BasePage()
	stream := laz.NewStream()
	codec := laz.NewCodec(t.pctx.DimTypes())
	if err := codec.Compress(page, stream); err != nil {
		return err
	}
	log.Debug.Printf("sleepytree: save %s: %d points, page digest %016x",
		path, t.NumPoints(), highwayhash.Sum64(page, pageDigestKey))

	bounds := t.sleeper.Bounds()
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(header[0:], math.Float64bits(bounds.XMin))
	binary.LittleEndian.PutUint64(header[8:], math.Float64bits(bounds.YMin))
	binary.LittleEndian.PutUint64(header[16:], math.Float64bits(bounds.XMax))
	binary.LittleEndian.PutUint64(header[24:], math.Float64bits(bounds.YMax))
	binary.LittleEndian.PutUint64(header[32:], uint64(len(page)))
	binary.LittleEndian.PutUint64(header[40:], uint64(stream.Len()))

	if !strings.Contains(path, "://") {
		if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
			return err
		}
	}
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	w := f.Writer(ctx)
	if _, err = w.Write(header); err != nil {
		f.Close(ctx) // nolint: errcheck
		return err
	}
	if _, err = w.Write(stream.Data()); err != nil {
		f.Close(ctx) // nolint: errcheck
		return err
	}
	return f.Close(ctx)
}

// Load reads a tree previously written by Save.  The bounds come from
// the frame header and the base-band depth from the stored page size;
// cfg's Bounds and BaseDepth are ignored.  The configured context must
// match the one the tree was saved with, or the page will not divide
// into records.
func Load(ctx context.Context, cfg Config) (*Tree, error) {
	t, err := newTree(cfg)
	if err != nil {
		return nil, err
	}
	path := SerialPath(t.serialRoot, t.pipelineID)
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	data, err := ioutil.ReadAll(f.Reader(ctx))
	if cerr := f.Close(ctx); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if err := t.decodeFrame(path, data); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) decodeFrame(path string, data []byte) error {
	if len(data) < headerSize {
		return errors.E(errors.Integrity, "sleepytree: "+path+": corrupt header: file too short")
	}
	bounds := geom.BBox{
		XMin: math.Float64frombits(binary.LittleEndian.Uint64(data[0:])),
		YMin: math.Float64frombits(binary.LittleEndian.Uint64(data[8:])),
		XMax: math.Float64frombits(binary.LittleEndian.Uint64(data[16:])),
		YMax: math.Float64frombits(binary.LittleEndian.Uint64(data[24:])),
	}
	uncSize := binary.LittleEndian.Uint64(data[32:])
	cmpSize := binary.LittleEndian.Uint64(data[40:])
	if cmpSize != uint64(len(data)-headerSize) {
		return errors.E(errors.Integrity, "sleepytree: "+path+": corrupt header: payload size mismatch")
	}
	codec := laz.NewCodec(t.pctx.DimTypes())
	page, err := codec.Decompress(laz.NewStreamBytes(data[headerSize:]), int(uncSize))
	if err != nil {
		return errors.E(errors.Integrity, "sleepytree: "+path+": corrupt payload", err)
	}
	baseDepth, err := baseDepthForPage(len(page), t.pctx.PointSize())
	if err != nil {
		return errors.E(errors.Integrity, "sleepytree: "+path+": corrupt payload", err)
	}
	log.Debug.Printf("sleepytree: load %s: page digest %016x",
		path, highwayhash.Sum64(page, pageDigestKey))

	t.sleeper = newSleeperFromPage(bounds, t.pctx, baseDepth, page)
	n := int64(0)
	for slot := int64(0); slot < t.sleeper.page.numSlots(); slot++ {
		if t.sleeper.page.occupied(slot) {
			n++
		}
	}
	atomic.StoreInt64(&t.numPoints, n)
	t.pctx.Freeze()
	return nil
}

// baseDepthForPage recovers the base-band depth from a stored page
// size.
func baseDepthForPage(pageLen, stride int) (int, error) {
	for d := 1; d <= 32; d++ {
		slots := baseSlots(d) * int64(stride)
		if slots == int64(pageLen) {
			return d, nil
		}
		if slots > int64(pageLen) {
			break
		}
	}
	return 0, errors.E(errors.Integrity, "sleepytree: page size matches no base band")
}
