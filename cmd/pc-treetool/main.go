package main

// pc-treetool inspects serialized point-cloud trees offline: frame
// metadata, depth/region queries, and order-independent content
// checksums for comparing trees across hosts.

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/pointcloud/encoding/point"
	"github.com/grailbio/pointcloud/geom"
	"github.com/grailbio/pointcloud/sleepytree"
	"v.io/x/lib/cmdline"
)

// loadTree opens the serialized tree for a pipeline id using the
// standard packed layout.
func loadTree(root, pipelineID string) (*sleepytree.Tree, error) {
	return sleepytree.Load(vcontext.Background(), sleepytree.Config{
		PipelineID: pipelineID,
		Context:    point.StandardContext(),
		SerialRoot: root,
	})
}

func newCmdInfo() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "info",
		Short:    "Show the metadata of a serialized tree",
		ArgsName: "pipeline-id",
	}
	rootFlag := cmd.Flags.String("serial-root", sleepytree.DefaultSerialRoot, "Serialized tree root directory or URL")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("info takes one pipeline-id argument, but got %v", argv)
		}
		tree, err := loadTree(*rootFlag, argv[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Stdout, "bounds:     %v\n", tree.Bounds())
		fmt.Fprintf(env.Stdout, "points:     %d\n", tree.NumPoints())
		fmt.Fprintf(env.Stdout, "stride:     %d\n", tree.Context().PointSize())
		fmt.Fprintf(env.Stdout, "base depth: %d\n", tree.BaseDepth())
		return nil
	})
	return cmd
}

func newCmdQuery() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "query",
		Short:    "Print the points of a serialized tree",
		ArgsName: "pipeline-id",
	}
	rootFlag := cmd.Flags.String("serial-root", sleepytree.DefaultSerialRoot, "Serialized tree root directory or URL")
	beginFlag := cmd.Flags.Int("depth-begin", 0, "First depth to include")
	endFlag := cmd.Flags.Int("depth-end", 1<<30, "First depth to exclude")
	bboxFlag := cmd.Flags.String("bbox", "", "Restrict to xMin,yMin,xMax,yMax")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("query takes one pipeline-id argument, but got %v", argv)
		}
		tree, err := loadTree(*rootFlag, argv[0])
		if err != nil {
			return err
		}
		var results []sleepytree.PointInfo
		if *bboxFlag != "" {
			box, err := parseBBox(*bboxFlag)
			if err != nil {
				return err
			}
			results, err = tree.GetPointsInBox(box, *beginFlag, *endFlag)
			if err != nil {
				return err
			}
		} else if results, err = tree.GetPoints(*beginFlag, *endFlag); err != nil {
			return err
		}
		for _, pi := range results {
			fmt.Fprintf(env.Stdout, "%g\t%g\n", pi.Point.X, pi.Point.Y)
		}
		fmt.Fprintf(env.Stdout, "# %d points\n", len(results))
		return nil
	})
	return cmd
}

// treeChecksum summarizes a tree's content independent of emission
// order, so trees rebuilt through different insert interleavings
// compare equal.
type treeChecksum struct {
	NumPoints int
	// SumHash is the wrapping sum of the per-record seahashes. A quick
	// commutative hash.
	SumHash uint64
}

func newCmdChecksum() *cmdline.Command {
	cmd := &cmdline.Command{
		Name: "checksum",
		Short: `Compute a checksum of a serialized tree.
The checksum is a JSON summary that is independent of insertion order`,
		ArgsName: "pipeline-id",
	}
	rootFlag := cmd.Flags.String("serial-root", sleepytree.DefaultSerialRoot, "Serialized tree root directory or URL")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("checksum takes one pipeline-id argument, but got %v", argv)
		}
		tree, err := loadTree(*rootFlag, argv[0])
		if err != nil {
			return err
		}
		results, err := tree.GetPoints(0, 1<<30)
		if err != nil {
			return err
		}
		sum := treeChecksum{NumPoints: len(results)}
		for _, pi := range results {
			sum.SumHash += seahash.Sum64(pi.Bytes)
		}
		out, err := json.MarshalIndent(sum, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(env.Stdout, string(out))
		return nil
	})
	return cmd
}

func parseBBox(s string) (geom.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geom.BBox{}, fmt.Errorf("bbox %q: want xMin,yMin,xMax,yMax", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geom.BBox{}, fmt.Errorf("bbox %q: %v", s, err)
		}
		vals[i] = v
	}
	return geom.BBox{XMin: vals[0], YMin: vals[1], XMax: vals[2], YMax: vals[3]}, nil
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(&cmdline.Command{
		Name:     "pc-treetool",
		Short:    "Tools for working with serialized point-cloud trees",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdInfo(),
			newCmdQuery(),
			newCmdChecksum(),
		},
	})
}
