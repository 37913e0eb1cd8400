// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
pario-scrub drives stage.Pipeline over a directory standing in for a disk
array: data0, data1, ... are data disks, parity0, parity1, ... are parity
disks. It reads every stripe in the given block range, logs read errors,
and, when -trace is set, records per-disk checksums in a stripe trace file;
it does not compute or verify parity, which is out of scope for
the pipeline this command demonstrates.
*/

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"v.io/x/lib/vlog"

	"github.com/blockarray/pario/diagnostics"
	"github.com/blockarray/pario/diskio"
	"github.com/blockarray/pario/stage"
)

var (
	dir          = flag.String("dir", "", "Directory containing dataN/parityN files")
	blockSize    = flag.Int("block-size", 256<<10, "Block size in bytes")
	blockStart   = flag.Uint64("block-start", 0, "First block position to scrub")
	blockCount   = flag.Uint64("block-count", 0, "Number of block positions to scrub; required")
	depth        = flag.Int("depth", stage.DefaultDepth, "Read-ahead ring depth")
	skipSelfTest = flag.Bool("skip-self-test", false, "Skip the startup buffer RAM self-test")
	tracePath    = flag.String("trace", "", "If set, write a compressed stripe trace here")
	traceGzip    = flag.Bool("trace-gzip", true, "Compress the trace with gzip (false: snappy)")
)

func usage() {
	fmt.Printf("Usage: %s -dir DIR -block-count N [OPTIONS]\n", os.Args[0])
	flag.PrintDefaults()
}

func countFiles(dir, prefix string) int {
	n := 0
	for {
		if _, err := os.Stat(filepath.Join(dir, prefix+strconv.Itoa(n))); err != nil {
			break
		}
		n++
	}
	return n
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()
	flag.Parse()

	if *dir == "" || *blockCount == 0 {
		log.Fatalf("-dir and -block-count are required")
	}

	ctx := vcontext.Background()

	dataCount := countFiles(*dir, "data")
	parityCount := countFiles(*dir, "parity")
	if dataCount == 0 || parityCount == 0 {
		vlog.Fatalf("%s must contain at least one dataN and one parityN file", *dir)
	}

	dataHandles := make([]interface{}, dataCount)
	for i := 0; i < dataCount; i++ {
		h, err := diskio.Open(ctx, filepath.Join(*dir, "data"+strconv.Itoa(i)))
		if err != nil {
			vlog.Fatalf("open data%d: %v", i, err)
		}
		dataHandles[i] = h
	}
	parityHandles := make([]interface{}, parityCount)
	for i := 0; i < parityCount; i++ {
		h, err := diskio.Open(ctx, filepath.Join(*dir, "parity"+strconv.Itoa(i)))
		if err != nil {
			vlog.Fatalf("open parity%d: %v", i, err)
		}
		parityHandles[i] = h
	}

	reader := diskio.NewReader(*blockSize)

	cfg := stage.DefaultConfig
	cfg.Depth = *depth
	cfg.BlockSize = *blockSize
	cfg.SkipSelfTest = *skipSelfTest

	pipeline, err := stage.New(cfg, reader.ReadData, dataHandles, reader.ReadParity, parityHandles)
	if err != nil {
		log.Fatalf("stage.New: %v", err)
	}

	var rec *diagnostics.Recorder
	if *tracePath != "" {
		compressor := diagnostics.CompressSnappy
		if *traceGzip {
			compressor = diagnostics.CompressGzip
		}
		rec = diagnostics.NewRecorder(compressor)
	}

	start := stage.BlockPosition(*blockStart)
	end := start + stage.BlockPosition(*blockCount)
	pipeline.Start(start, end, func(interface{}, stage.BlockPosition) bool { return true }, nil)

	for i := uint64(0); i < *blockCount; i++ {
		pos, _ := pipeline.ReadNext()

		dataChecksums := make([]uint64, dataCount)
		mismatches := 0
		for j := 0; j < dataCount; j++ {
			task, idx, err := pipeline.DataRead()
			if err != nil {
				vlog.Fatalf("DataRead: %v", err)
			}
			res, _ := task.Result.(*diskio.Result)
			if res != nil {
				dataChecksums[idx] = res.Checksum
				if res.TimestampMismatch {
					mismatches++
				}
				if res.Err != nil {
					log.Error.Printf("block %d disk %d: %v", pos, idx, res.Err)
				}
			}
		}

		parityChecksums := make([]uint64, parityCount)
		for j := 0; j < parityCount; j++ {
			task, idx, err := pipeline.ParityRead()
			if err != nil {
				vlog.Fatalf("ParityRead: %v", err)
			}
			res, _ := task.Result.(*diskio.Result)
			if res != nil {
				parityChecksums[idx] = res.Checksum
				if res.Err != nil {
					log.Error.Printf("block %d parity %d: %v", pos, idx, res.Err)
				}
			}
		}

		if rec != nil {
			rec.Observe(pos, dataChecksums, parityChecksums, mismatches)
		}
	}

	pipeline.Stop()
	pipeline.Close()

	for _, h := range dataHandles {
		h.(*diskio.Handle).Close(ctx) // nolint: errcheck
	}
	for _, h := range parityHandles {
		h.(*diskio.Handle).Close(ctx) // nolint: errcheck
	}

	if rec != nil {
		if err := rec.Flush(ctx, *tracePath); err != nil {
			log.Fatalf("flush trace: %v", err)
		}
	}
}
