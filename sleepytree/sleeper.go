package sleepytree

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/pointcloud/encoding/point"
	"github.com/grailbio/pointcloud/geom"
)

// Sleeper is the spatial index proper: a quadtree over a fixed planar
// region whose first baseDepth levels store their records in one dense
// base page.  Writers coordinate through per-slot CAS and per-node
// latches; readers take no locks on the traversal path and may run
// concurrently with writers.
type Sleeper struct {
	root      *node
	page      *basePage
	pctx      *point.Context
	baseDepth int
}

// NewSleeper returns an empty index over bbox.  Records are pctx-packed
// bytes of exactly pctx.PointSize() each.  baseDepth must be at least 1.
func NewSleeper(bbox geom.BBox, pctx *point.Context, baseDepth int) *Sleeper {
	if baseDepth < 1 {
		log.Panicf("sleepytree: baseDepth %d, must be >= 1", baseDepth)
	}
	return &Sleeper{
		root:      newNode(bbox, 0, 0, baseDepth),
		page:      newBasePage(baseSlots(baseDepth), pctx.PointSize()),
		pctx:      pctx,
		baseDepth: baseDepth,
	}
}

// newSleeperFromPage rebuilds an index from a serialized base page.
// Interior nodes are re-created along the path of every occupied slot.
func newSleeperFromPage(bbox geom.BBox, pctx *point.Context, baseDepth int, page []byte) *Sleeper {
	s := &Sleeper{
		root:      newNode(bbox, 0, 0, baseDepth),
		page:      newBasePageFromData(page, pctx.PointSize()),
		pctx:      pctx,
		baseDepth: baseDepth,
	}
	for slot := int64(0); slot < s.page.numSlots(); slot++ {
		if s.page.occupied(slot) {
			s.materializeNode(slot)
		}
	}
	return s
}

// materializeNode creates the node chain leading to the given base-page
// slot.  The quadrant path is recovered from the slot index: within a
// level, a node's index written in base four spells the quadrant choices
// from the root.
func (s *Sleeper) materializeNode(slot int64) {
	depth := 0
	for levelOffset(depth+1) <= slot {
		depth++
	}
	path := slot - levelOffset(depth)
	n := s.root
	for d := depth - 1; d >= 0; d-- {
		q := int(path >> uint(2*d) & 3)
		n = n.ensureChild(q, s.baseDepth)
	}
}

// BasePage returns the dense base-band buffer.  The page covers every
// base slot, occupied or not; its length is constant for a given
// (baseDepth, stride) pair.
func (s *Sleeper) BasePage() []byte { return s.page.data }

// BaseDepth returns the depth of the base band.
func (s *Sleeper) BaseDepth() int { return s.baseDepth }

// Bounds returns the root bounding box.
func (s *Sleeper) Bounds() geom.BBox { return s.root.bbox }

// AddPoint routes one packed record into the tree.  It returns false,
// without storing anything, when p lies outside the root bounds.  The
// record bytes are copied; the caller may reuse rec.
func (s *Sleeper) AddPoint(p geom.Point, rec []byte) bool {
	if !s.root.bbox.Contains(p) {
		return false
	}
	n := s.root
	for {
		if n.depth < s.baseDepth {
			if s.page.tryClaim(n.slot) {
				copy(s.page.record(n.slot), rec)
				s.page.publish(n.slot)
				return true
			}
			n = n.ensureChild(n.bbox.Quadrant(p), s.baseDepth)
			continue
		}
		n.appendOverflow(p, rec)
		return true
	}
}

// GetPoints returns every stored record whose node depth d satisfies
// depthBegin <= d < depthEnd.  Emission order is depth ascending, then
// NW, NE, SW, SE within each level; overflow lists preserve insertion
// order.  An empty band (depthBegin == depthEnd) yields no results;
// negative depths are rejected.
func (s *Sleeper) GetPoints(depthBegin, depthEnd int) ([]PointInfo, error) {
	return s.getPoints(nil, depthBegin, depthEnd)
}

// GetPointsInBox is GetPoints restricted to records inside box.
// Subtrees whose bounds do not intersect box are pruned; a box
// coincident with a node boundary is treated as intersecting.
func (s *Sleeper) GetPointsInBox(box geom.BBox, depthBegin, depthEnd int) ([]PointInfo, error) {
	return s.getPoints(&box, depthBegin, depthEnd)
}

func (s *Sleeper) getPoints(box *geom.BBox, depthBegin, depthEnd int) ([]PointInfo, error) {
	if depthBegin < 0 || depthEnd < 0 {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("sleepytree: bad depth range [%d, %d)", depthBegin, depthEnd))
	}
	var results []PointInfo
	// Breadth-first, visiting each level's nodes in base-page order,
	// which is exactly the defined emission order.
	level := []*node{s.root}
	for d := 0; len(level) > 0 && d < depthEnd; d++ {
		var next []*node
		for _, n := range level {
			if box != nil && !n.bbox.Intersects(*box) {
				continue
			}
			if d >= depthBegin {
				results = s.emit(results, n, box)
			}
			if d+1 < depthEnd {
				for q := 0; q < geom.NumQuadrants; q++ {
					if c := n.child(q); c != nil {
						next = append(next, c)
					}
				}
			}
		}
		level = next
	}
	return results, nil
}

// emit appends n's stored records to results, applying the optional box
// filter per point.
func (s *Sleeper) emit(results []PointInfo, n *node, box *geom.BBox) []PointInfo {
	if n.slot >= 0 {
		if !s.page.occupied(n.slot) {
			return results
		}
		rec := s.page.record(n.slot)
		cp := make([]byte, len(rec))
		copy(cp, rec)
		x, y := s.pctx.XY(cp)
		p := geom.Point{X: x, Y: y}
		if box != nil && !box.Contains(p) {
			return results
		}
		return append(results, PointInfo{Point: p, Bytes: cp})
	}
	for _, e := range n.snapshotOverflow() {
		if box != nil && !box.Contains(e.point) {
			continue
		}
		cp := make([]byte, len(e.rec))
		copy(cp, e.rec)
		results = append(results, PointInfo{Point: e.point, Bytes: cp})
	}
	return results
}
