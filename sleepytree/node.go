package sleepytree

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/grailbio/base/log"
	"github.com/grailbio/pointcloud/geom"
)

// DefaultBaseDepth is the depth of the base band for trees that do not
// override it.  The band then holds (4^11-1)/3 = 1,398,101 slots, about
// one million points.
const DefaultBaseDepth = 11

// levelOffset returns the base-page slot index of the first node at
// depth d: the number of nodes in all shallower levels, (4^d - 1) / 3.
func levelOffset(d int) int64 {
	return (int64(1)<<uint(2*d) - 1) / 3
}

// baseSlots returns the total slot count of a base band of the given
// depth.
func baseSlots(baseDepth int) int64 {
	return levelOffset(baseDepth)
}

// basePage is the dense buffer holding one record slot per base-band
// node, laid out depth-major and quadrant-major so that a node's slot
// is a pure function of its path from the root.
//
// Occupancy is tracked in two bitmaps.  A writer wins a slot with a CAS
// on the claim map, copies the record bytes, and then publishes the
// slot in the ready map.  Readers consult only the ready map, so they
// observe either no record or a fully written one, never a torn write.
type basePage struct {
	stride int
	data   []byte
	claim  []uint64
	ready  []uint64
}

func newBasePage(slots int64, stride int) *basePage {
	words := (slots + 63) / 64
	return &basePage{
		stride: stride,
		data:   make([]byte, slots*int64(stride)),
		claim:  make([]uint64, words),
		ready:  make([]uint64, words),
	}
}

// newBasePageFromData rebuilds a page from its serialized form.  The
// serialized frame carries no occupancy bitmap; a slot is occupied iff
// its record bytes are not all zero.
func newBasePageFromData(data []byte, stride int) *basePage {
	slots := int64(len(data)) / int64(stride)
	p := newBasePage(slots, stride)
	copy(p.data, data)
	for s := int64(0); s < slots; s++ {
		if !allZero(p.record(s)) {
			bit := uint64(1) << uint(s&63)
			p.claim[s>>6] |= bit
			p.ready[s>>6] |= bit
		}
	}
	return p
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (p *basePage) numSlots() int64 { return int64(len(p.data)) / int64(p.stride) }

// tryClaim attempts to win slot s, returning false if another writer
// holds it.
func (p *basePage) tryClaim(s int64) bool {
	word := &p.claim[s>>6]
	bit := uint64(1) << uint(s&63)
	for {
		old := atomic.LoadUint64(word)
		if old&bit != 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(word, old, old|bit) {
			return true
		}
	}
}

// publish marks slot s readable.  The caller must have claimed s and
// finished writing its record bytes.
func (p *basePage) publish(s int64) {
	word := &p.ready[s>>6]
	bit := uint64(1) << uint(s&63)
	for {
		old := atomic.LoadUint64(word)
		if atomic.CompareAndSwapUint64(word, old, old|bit) {
			return
		}
	}
}

// occupied reports whether slot s holds a published record.
func (p *basePage) occupied(s int64) bool {
	return atomic.LoadUint64(&p.ready[s>>6])&(uint64(1)<<uint(s&63)) != 0
}

// record returns the slot's byte range within the page.
func (p *basePage) record(s int64) []byte {
	off := s * int64(p.stride)
	return p.data[off : off+int64(p.stride)]
}

// overflowEntry is one record stored beyond the base band.
type overflowEntry struct {
	point geom.Point
	rec   []byte
}

// node is one quadtree cell.  Base-band nodes (depth < baseDepth) own a
// slot in the base page; the single level beyond the band holds an
// unbounded overflow list instead.  Children are created lazily,
// double-checked under the node's latch, and published with atomic
// stores so readers never take the latch on the lookup path.
type node struct {
	bbox  geom.BBox
	depth int
	slot  int64 // absolute base-page slot, or -1 beyond the band
	path  int64 // index of this node within its level

	mu       sync.Mutex // guards child creation and overflow append
	children [geom.NumQuadrants]*node
	overflow []overflowEntry
}

func newNode(bbox geom.BBox, depth int, path int64, baseDepth int) *node {
	n := &node{bbox: bbox, depth: depth, path: path, slot: -1}
	if depth < baseDepth {
		n.slot = levelOffset(depth) + path
	}
	return n
}

// child returns the q'th child or nil, without locking.
func (n *node) child(q int) *node {
	return (*node)(atomic.LoadPointer(
		(*unsafe.Pointer)(unsafe.Pointer(&n.children[q]))))
}

func (n *node) setChild(q int, c *node) {
	atomic.StorePointer(
		(*unsafe.Pointer)(unsafe.Pointer(&n.children[q])), unsafe.Pointer(c))
}

// ensureChild returns the q'th child, creating it if needed.
func (n *node) ensureChild(q int, baseDepth int) *node {
	if c := n.child(q); c != nil {
		return c
	}
	n.mu.Lock()
	c := n.children[q]
	if c == nil {
		c = newNode(n.bbox.Split()[q], n.depth+1, n.path*geom.NumQuadrants+int64(q), baseDepth)
		n.setChild(q, c)
	}
	n.mu.Unlock()
	return c
}

// appendOverflow adds a record beyond the base band, preserving
// insertion order.  The record bytes are copied.
func (n *node) appendOverflow(p geom.Point, rec []byte) {
	if n.slot >= 0 {
		log.Panicf("sleepytree: overflow append on base-band node at depth %d", n.depth)
	}
	cp := make([]byte, len(rec))
	copy(cp, rec)
	n.mu.Lock()
	n.overflow = append(n.overflow, overflowEntry{point: p, rec: cp})
	n.mu.Unlock()
}

// snapshotOverflow returns the current overflow entries.  The returned
// slice is safe to iterate concurrently with appends; the entries
// themselves are immutable.
func (n *node) snapshotOverflow() []overflowEntry {
	n.mu.Lock()
	s := n.overflow[:len(n.overflow):len(n.overflow)]
	n.mu.Unlock()
	return s
}
