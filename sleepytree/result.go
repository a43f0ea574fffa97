package sleepytree

import "github.com/grailbio/pointcloud/geom"

// PointInfo is one query result: the spatial key plus a private copy of
// the packed record bytes.  Results are materialized at query time so
// they stay valid while the tree keeps mutating.
type PointInfo struct {
	Point geom.Point
	Bytes []byte
}
