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

// Package pseudobulk aggregates annotated single-cell fragments into
// per-group fragments files and coverage tracks.
package pseudobulk

import (
	"context"
	"os"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/pseudobulk/fragments"
	"github.com/pbenner/gonetics"
)

// Opts controls pseudobulk export.
type Opts struct {
	// BedDir receives one <group>.bed.gz fragments file per group.
	BedDir string
	// BigWigDir receives one <group>.bw coverage track per group.
	BigWigDir string
	// BinSize is the coverage-track resolution in bases.
	BinSize int
	// NormalizeBigWig rescales coverage to counts per million fragments.
	NormalizeBigWig bool
	// CountDuplicates weights coverage by the fragment duplicate count
	// instead of treating each record as a single event.
	CountDuplicates bool
	// Parallelism bounds the number of concurrently exported groups.
	// 0 means one goroutine per group.
	Parallelism int
}

// DefaultOpts mirrors the conventional settings for ATAC-seq pseudobulks.
var DefaultOpts = Opts{
	BinSize:         50,
	NormalizeBigWig: true,
	CountDuplicates: false,
	Parallelism:     0,
}

// SanitizeGroup converts a group label into a filename component, replacing
// whitespace and path separators with '_'.
func SanitizeGroup(group string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '/', '\\':
			return '_'
		}
		return r
	}, group)
}

// Export partitions frags by the grouping variable in cells and writes one
// bgzf-compressed fragments BED and one BigWig coverage track per group,
// processing groups in parallel.  It returns group -> bigwig path and
// group -> fragments path maps covering every group in the cell table,
// including groups that retained no fragments.
func Export(ctx context.Context, frags []fragments.Fragment, cells *fragments.CellTable, g gonetics.Genome, opts Opts) (bwPaths, bedPaths map[string]string, err error) {
	if opts.BinSize <= 0 {
		return nil, nil, errors.E("pseudobulk.Export: BinSize must be positive")
	}
	for _, dir := range []string{opts.BedDir, opts.BigWigDir} {
		if err = os.MkdirAll(dir, 0777); err != nil {
			return nil, nil, err
		}
	}
	byGroup := fragments.Partition(frags, cells)
	groups := cells.Groups()
	log.Printf("pseudobulk.Export: exporting %d group(s)", len(groups))

	groupBwPaths := make([]string, len(groups))
	groupBedPaths := make([]string, len(groups))
	each := traverse.Each
	if opts.Parallelism > 0 {
		each = traverse.Limit(opts.Parallelism).Each
	}
	err = each(len(groups), func(i int) error {
		group := groups[i]
		name := SanitizeGroup(group)
		groupBedPaths[i] = file.Join(opts.BedDir, name+".bed.gz")
		groupBwPaths[i] = file.Join(opts.BigWigDir, name+".bw")
		return exportGroup(ctx, group, byGroup[group], g, groupBedPaths[i], groupBwPaths[i], opts)
	})
	if err != nil {
		return nil, nil, err
	}
	bwPaths = make(map[string]string, len(groups))
	bedPaths = make(map[string]string, len(groups))
	for i, group := range groups {
		bwPaths[group] = groupBwPaths[i]
		bedPaths[group] = groupBedPaths[i]
	}
	return bwPaths, bedPaths, nil
}

func exportGroup(ctx context.Context, group string, frags []fragments.Fragment, g gonetics.Genome, bedPath, bwPath string, opts Opts) error {
	log.Printf("pseudobulk.exportGroup: %s (%d fragment(s))", group, len(frags))
	if err := writeFragmentsBed(ctx, bedPath, frags); err != nil {
		return errors.E(err, "writing fragments for group "+group)
	}
	cov := newCoverage(g, opts.BinSize)
	var total float64
	for i := range frags {
		weight := 1.0
		if opts.CountDuplicates {
			weight = float64(frags[i].Count)
		}
		if cov.add(&frags[i], weight) {
			total += weight
		}
	}
	if cov.skipped > 0 {
		log.Printf("pseudobulk.exportGroup: %s: skipped %d fragment(s) on chromosomes absent from the genome", group, cov.skipped)
	}
	if opts.NormalizeBigWig && total > 0 {
		cov.scale(1e6 / total)
	}
	track, err := gonetics.NewSimpleTrack(group, cov.seqs, g, opts.BinSize)
	if err != nil {
		return errors.E(err, "building coverage track for group "+group)
	}
	if err := track.ExportBigWig(bwPath); err != nil {
		return errors.E(err, "writing coverage track for group "+group)
	}
	log.Printf("pseudobulk.exportGroup: %s done", group)
	return nil
}

// writeFragmentsBed writes a bgzf-compressed fragments BED
// (chrom/start/end/barcode/count).
func writeFragmentsBed(ctx context.Context, path string, frags []fragments.Fragment) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, dst, &err)
	bgzfWriter := bgzf.NewWriter(dst.Writer(ctx), 1)
	defer func() {
		if e := bgzfWriter.Close(); e != nil && err == nil {
			err = e
		}
	}()
	w := tsv.NewWriter(bgzfWriter)
	for i := range frags {
		f := &frags[i]
		w.WriteString(f.RefName)
		w.WriteUint32(uint32(f.Start))
		w.WriteUint32(uint32(f.End))
		w.WriteString(f.Barcode)
		w.WriteUint32(f.Count)
		if err = w.EndLine(); err != nil {
			return
		}
	}
	err = w.Flush()
	return
}
