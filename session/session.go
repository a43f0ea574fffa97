// Package session binds one ingest pipeline to one spatial point store
// and exposes the operations the JSON command protocol drives: session
// lifecycle, schema introspection, reads shipped over the blob
// transport, and serialization to disk or an object store.
package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"sync"

	"github.com/dgryski/go-farm"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/pointcloud/encoding/laz"
	"github.com/grailbio/pointcloud/encoding/point"
	"github.com/grailbio/pointcloud/geom"
	"github.com/grailbio/pointcloud/query"
	"github.com/grailbio/pointcloud/s3"
	"github.com/grailbio/pointcloud/sleepytree"
	"github.com/grailbio/pointcloud/transport"
)

// Config parameterizes a Manager.
type Config struct {
	// Factory executes pipeline descriptions.  Required.
	Factory SourceFactory
	// SerialRoot is where serialized trees go.  Empty selects the
	// store's default.
	SerialRoot string
	// Store, when non-nil, receives a copy of every serialized tree.
	Store *s3.Client
	// BaseDepth overrides the store's default base band depth when
	// positive.  Tests use shallow bands.
	BaseDepth int
}

// Session is one pipeline bound to one tree.
type Session struct {
	id         string
	pipeline   string
	source     Source
	tree       *sleepytree.Tree
	nextOrigin uint64
}

// ID returns the session's pipeline fingerprint.
func (s *Session) ID() string { return s.id }

// Manager owns at most one live session and serializes lifecycle
// operations.  Reads and queries on a live session may run
// concurrently with each other.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	session *Session

	// serializeSeq numbers asynchronous store uploads.
	serializeSeq uint64
	collector    *s3.Collector
}

// NewManager returns a manager with no live session.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, collector: s3.NewCollector()}
}

// IsValid reports whether a session is live.
func (m *Manager) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Create executes the pipeline and builds the session's tree,
// ingesting the full point buffer under a fresh origin.  Creating over
// a live session destroys it first.
func (m *Manager) Create(pipeline string, debug bool, verbose int) error {
	source, bounds, err := m.cfg.Factory(pipeline, debug, verbose)
	if err != nil {
		return err
	}
	if !source.Context().HasXY() {
		return errors.E(errors.Invalid,
			"session: pipeline output must contain Float64 X and Y dimensions")
	}
	id := fmt.Sprintf("%016x", farm.Fingerprint64([]byte(pipeline)))
	tree, err := sleepytree.New(sleepytree.Config{
		PipelineID: id,
		Bounds:     bounds,
		BaseDepth:  m.cfg.BaseDepth,
		SerialRoot: m.cfg.SerialRoot,
	})
	if err != nil {
		return err
	}
	s := &Session{id: id, pipeline: pipeline, source: source, tree: tree}
	accepted := tree.Insert(source, s.nextOrigin)
	s.nextOrigin++
	log.Printf("session %s: created, %d of %d points accepted", id, accepted, source.Len())

	m.mu.Lock()
	if m.session != nil {
		log.Printf("session %s: replaced by create", m.session.id)
	}
	m.session = s
	m.mu.Unlock()
	return nil
}

// Destroy drops the live session.
func (m *Manager) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return errors.E(errors.NotExist, "session: no session to destroy")
	}
	log.Printf("session %s: destroyed", m.session.id)
	m.session = nil
	return nil
}

func (m *Manager) live() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, errors.E(errors.NotExist, "session: no live session")
	}
	return m.session, nil
}

// NumPoints returns the number of points the live session has ingested.
func (m *Manager) NumPoints() (int64, error) {
	s, err := m.live()
	if err != nil {
		return 0, err
	}
	return s.tree.NumPoints(), nil
}

// SchemaXML returns the XML description of the live session's packed
// schema.
func (m *Manager) SchemaXML() (string, error) {
	s, err := m.live()
	if err != nil {
		return "", err
	}
	return s.tree.Context().XML(), nil
}

// SRS returns the session's spatial reference description.  The
// pipeline integration does not yet surface one; clients receive an
// empty string.
func (m *Manager) SRS() (string, error) {
	if _, err := m.live(); err != nil {
		return "", err
	}
	return "", nil
}

// ReadParams selects what a read returns and where it goes.  Either an
// index range (Start/Count) or a spatial selection (BBox and/or depth
// band) may be given; the spatial form wins when both appear.
type ReadParams struct {
	Start      *int64     `json:"start"`
	Count      *int64     `json:"count"`
	BBox       []float64  `json:"bbox"`
	DepthBegin *int       `json:"depthBegin"`
	DepthEnd   *int       `json:"depthEnd"`
	Compress   bool       `json:"compress"`
	Rasterize  bool       `json:"rasterize"`

	TransmitHost string `json:"transmitHost"`
	TransmitPort int    `json:"transmitPort"`
}

func (p *ReadParams) spatial() bool {
	return p.BBox != nil || p.DepthBegin != nil || p.DepthEnd != nil
}

// ReadResult acknowledges a queued read.
type ReadResult struct {
	PointsRead int
	BytesCount int
	Message    string
}

// maxDepth stands in for an unbounded depth range.
const maxDepth = 1 << 30

// Read materializes the selected points, optionally compresses them,
// and ships them to the client's endpoint on a detached worker.  The
// acknowledgement returns before delivery; transport failures are
// logged by the worker.
func (m *Manager) Read(p ReadParams) (ReadResult, error) {
	s, err := m.live()
	if err != nil {
		return ReadResult{}, err
	}
	if p.TransmitHost == "" || p.TransmitPort <= 0 {
		return ReadResult{}, errors.E(errors.Invalid, "session: read requires transmitHost and transmitPort")
	}

	var (
		buf  []byte
		n    int
		pctx *point.Context
	)
	if p.spatial() {
		if buf, n, err = s.readSpatial(p); err != nil {
			return ReadResult{}, err
		}
		pctx = s.tree.Context()
	} else {
		if buf, n, err = s.readRange(p); err != nil {
			return ReadResult{}, err
		}
		pctx = s.source.Context()
	}
	if p.Compress {
		if buf, err = compressPayload(pctx, buf); err != nil {
			return ReadResult{}, err
		}
	}
	transport.TransmitAsync(vcontext.Background(), p.TransmitHost, p.TransmitPort, buf)
	return ReadResult{
		PointsRead: n,
		BytesCount: len(buf),
		Message:    "read request queued for delivery to " + fmt.Sprintf("%s:%d", p.TransmitHost, p.TransmitPort),
	}, nil
}

// readSpatial drains a depth-band (and optionally box-scoped) query of
// the tree into one packed buffer.
func (s *Session) readSpatial(p ReadParams) ([]byte, int, error) {
	depthBegin, depthEnd := 0, maxDepth
	if p.DepthBegin != nil {
		depthBegin = *p.DepthBegin
	}
	if p.DepthEnd != nil {
		depthEnd = *p.DepthEnd
	}
	var (
		results []sleepytree.PointInfo
		err     error
	)
	if p.BBox != nil {
		b := p.BBox
		if len(b) != 4 {
			return nil, 0, errors.E(errors.Invalid, "session: bbox must be [xMin, yMin, xMax, yMax]")
		}
		box := geom.BBox{XMin: b[0], YMin: b[1], XMax: b[2], YMax: b[3]}
		results, err = s.tree.GetPointsInBox(box, depthBegin, depthEnd)
	} else {
		results, err = s.tree.GetPoints(depthBegin, depthEnd)
	}
	if err != nil {
		return nil, 0, err
	}
	q := query.New(results, s.tree.Context())
	buf := make([]byte, q.NumPoints()*q.Stride())
	if err := q.PackAll(buf); err != nil {
		return nil, 0, err
	}
	return buf, q.NumPoints(), nil
}

// readRange copies rows [start, start+count) of the source buffer.
func (s *Session) readRange(p ReadParams) ([]byte, int, error) {
	total := int64(s.source.Len())
	start, count := int64(0), total
	if p.Start != nil {
		start = *p.Start
	}
	if p.Count != nil {
		count = *p.Count
	}
	if start < 0 || count < 0 {
		return nil, 0, errors.E(errors.Invalid, "session: negative start or count")
	}
	if start > total {
		return nil, 0, errors.E(errors.Invalid,
			fmt.Sprintf("session: start %d is beyond the %d available points", start, total))
	}
	if start+count > total {
		count = total - start
	}
	stride := s.source.Context().PointSize()
	buf := make([]byte, int(count)*stride)
	for i := int64(0); i < count; i++ {
		copy(buf[int(i)*stride:], s.source.Row(int(start+i)))
	}
	return buf, int(count), nil
}

// compressPayload frames buf as an 8-byte little-endian uncompressed
// size followed by the codec output for pctx's dimension types.
func compressPayload(pctx *point.Context, buf []byte) ([]byte, error) {
	stream := laz.NewStream()
	header := make([]byte, 8)
	binary.LittleEndian.PutUint64(header, uint64(len(buf)))
	stream.PutBytes(header)
	if err := laz.NewCodec(pctx.DimTypes()).Compress(buf, stream); err != nil {
		return nil, err
	}
	return stream.Data(), nil
}

// Serialize saves the live session's tree to its serial path and, when
// a store is configured, uploads a copy asynchronously.  The returned
// id names the upload in the manager's collector; it is zero when no
// store is configured.
func (m *Manager) Serialize(ctx context.Context) (uint64, error) {
	s, err := m.live()
	if err != nil {
		return 0, err
	}
	if err := s.tree.Save(ctx, ""); err != nil {
		return 0, err
	}
	if m.cfg.Store == nil {
		return 0, nil
	}
	// The upload rereads the serialized file; this requires a local
	// serial root.
	root := m.cfg.SerialRoot
	if root == "" {
		root = sleepytree.DefaultSerialRoot
	}
	data, err := ioutil.ReadFile(sleepytree.SerialPath(root, s.id))
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.serializeSeq++
	id := m.serializeSeq
	m.mu.Unlock()
	m.cfg.Store.PutAsync(id, s.id+"/0", data, m.collector)
	return id, nil
}

// Collector exposes the manager's upload collector.
func (m *Manager) Collector() *s3.Collector { return m.collector }
