package main

// pc-session speaks the newline-delimited JSON session protocol on
// stdin/stdout: one {"command": ..., "params": ...} object per line in,
// one {"status": ...} object per line out.  A {"ready": 1} line is
// emitted before the first command is read.  Read results are shipped
// out of band to the transmitHost:transmitPort named in the request.
//
// Without a pipeline reader attached, create accepts "faux" pipelines
// only; see session.FauxSourceFactory.

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/pointcloud/s3"
	"github.com/grailbio/pointcloud/session"
	"github.com/grailbio/pointcloud/sleepytree"
)

var (
	serialRoot = flag.String("serial-root", sleepytree.DefaultSerialRoot,
		"Directory or URL under which serialized trees are stored")
	baseDepth = flag.Int("base-depth", 0,
		"Base band depth of new trees; 0 selects the built-in default")
	s3Bucket = flag.String("s3-bucket", "",
		"When set, serialized trees are also uploaded to this bucket")
	s3URL = flag.String("s3-url", s3.DefaultBaseURL,
		"Object store endpoint host")
	httpBatches = flag.Int("http-batches", s3.DefaultNumBatches,
		"Number of HTTP connection batches in the store pool")
	httpBatchSize = flag.Int("http-batch-size", s3.DefaultBatchSize,
		"Request slots per HTTP connection batch")
)

func main() {
	shutdown := grail.Init()
	defer shutdown()

	cfg := session.Config{
		Factory:    session.FauxSourceFactory,
		SerialRoot: *serialRoot,
		BaseDepth:  *baseDepth,
	}
	if *s3Bucket != "" {
		store, err := s3.New(s3.Config{
			BaseURL: *s3URL,
			Bucket:  *s3Bucket,
			Pool:    s3.NewBatchPool(*httpBatches, *httpBatchSize),
		})
		if err != nil {
			log.Panicf("pc-session: store init: %v", err)
		}
		defer store.Release()
		cfg.Store = store
	}
	d := session.NewDispatcher(session.NewManager(cfg))

	out := bufio.NewWriter(os.Stdout)
	writeLine := func(line []byte) {
		out.Write(line)     // nolint: errcheck
		out.WriteByte('\n') // nolint: errcheck
		// A bufio.Writer latches errors; Flush surfaces them.
		if err := out.Flush(); err != nil {
			log.Panicf("pc-session: stdout: %v", err)
		}
	}
	writeLine(d.Ready())

	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 1<<20), 1<<24)
	for in.Scan() {
		line := in.Bytes()
		if len(line) == 0 {
			continue
		}
		writeLine(d.Dispatch(line))
	}
	if err := in.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "pc-session: stdin:", err)
		os.Exit(1)
	}
}
