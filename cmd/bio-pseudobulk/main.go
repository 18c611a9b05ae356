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
bio-pseudobulk aggregates single-cell ATAC fragments into per-group
pseudobulk fragments files and coverage tracks, then calls peaks on each
group with MACS2.
*/

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/pseudobulk/fragments"
	"github.com/grailbio/pseudobulk/genome"
	"github.com/grailbio/pseudobulk/peakcall"
	"github.com/grailbio/pseudobulk/pseudobulk"
)

var (
	cellsPath      = flag.String("cells", "", "Cell metadata TSV; first column holds BARCODE-sample row names (required)")
	variable       = flag.String("variable", "", "Metadata column used to group cells into pseudobulks (required)")
	fragmentsSpec  = flag.String("fragments", "", "Comma-separated sample=path fragments-file specs; a bare path means undecorated barcodes (required)")
	chromSizesPath = flag.String("chrom-sizes", "", "Chromosome sizes, chrom<TAB>size or 3-column BED (required)")
	bedDir         = flag.String("bed-dir", "pseudobulk-bed", "Output directory for per-group fragments files")
	bigwigDir      = flag.String("bigwig-dir", "pseudobulk-bigwig", "Output directory for per-group coverage tracks")
	binSize        = flag.Int("bin-size", pseudobulk.DefaultOpts.BinSize, "Coverage-track bin size in bases")
	noNormalize    = flag.Bool("no-normalize", false, "Disable CPM normalization of coverage tracks")
	countDups      = flag.Bool("count-duplicates", pseudobulk.DefaultOpts.CountDuplicates, "Weight coverage by the fragment duplicate count")
	parallelism    = flag.Int("parallelism", 0, "Maximum number of simultaneously processed groups; 0 = one goroutine per group")
	skipPeaks      = flag.Bool("skip-peaks", false, "Stop after pseudobulk export, without calling peaks")
	macsPath       = flag.String("macs-path", peakcall.DefaultOpts.MACSPath, "MACS2 binary")
	peaksDir       = flag.String("peaks-dir", "pseudobulk-peaks", "Output directory for MACS2 results")
	genomeSize     = flag.String("gsize", peakcall.DefaultOpts.GenomeSize, "MACS2 effective genome size ('hs', 'mm', 'ce', 'dm', or a number)")
	inputFormat    = flag.String("format", peakcall.DefaultOpts.Format, "MACS2 input format for the fragments files")
	shift          = flag.Int("shift", peakcall.DefaultOpts.Shift, "MACS2 --shift")
	extSize        = flag.Int("extsize", peakcall.DefaultOpts.ExtSize, "MACS2 --extsize")
	keepDup        = flag.String("keep-dup", peakcall.DefaultOpts.KeepDup, "MACS2 duplicate policy")
	qValue         = flag.Float64("qvalue", peakcall.DefaultOpts.QValue, "MACS2 q-value cutoff")
	consensusPath  = flag.String("consensus", "", "Optional output BED with the summit-centered peak union across groups")
	summitHalf     = flag.Int("summit-half-width", 250, "Half-width of summit-centered consensus intervals; 0 = merge full peaks")
)

func bioPseudobulkUsage() {
	fmt.Printf("Usage: %s [OPTIONS]\n", os.Args[0])
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
}

// parseFragmentsSpec splits "sample1=path1,sample2=path2" (or a single bare
// path) into a sample->path map.
func parseFragmentsSpec(spec string) (map[string]string, error) {
	paths := make(map[string]string)
	for _, part := range strings.Split(spec, ",") {
		if part == "" {
			continue
		}
		eqPos := strings.IndexByte(part, '=')
		sampleID := ""
		path := part
		if eqPos != -1 {
			sampleID = part[:eqPos]
			path = part[eqPos+1:]
		}
		if path == "" {
			return nil, fmt.Errorf("empty path in fragments spec %q", part)
		}
		if _, dup := paths[sampleID]; dup {
			return nil, fmt.Errorf("duplicate sample %q in fragments spec", sampleID)
		}
		paths[sampleID] = path
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no fragments files given")
	}
	return paths, nil
}

func main() {
	flag.Usage = bioPseudobulkUsage
	shutdown := grail.Init()
	defer shutdown()

	if *cellsPath == "" || *variable == "" || *fragmentsSpec == "" || *chromSizesPath == "" {
		log.Fatalf("-cells, -variable, -fragments and -chrom-sizes are all required; run with -help for usage")
	}
	fragPaths, err := parseFragmentsSpec(*fragmentsSpec)
	if err != nil {
		log.Fatalf("parsing -fragments: %v", err)
	}

	ctx := vcontext.Background()
	cells, err := fragments.ReadCells(ctx, *cellsPath, *variable)
	if err != nil {
		log.Fatalf("reading cell metadata: %v", err)
	}
	log.Printf("loaded %d cell(s) in %d group(s)", cells.Len(), len(cells.Groups()))
	g, err := genome.ReadChromSizes(ctx, *chromSizesPath)
	if err != nil {
		log.Fatalf("reading chromosome sizes: %v", err)
	}
	frags, err := fragments.ReadAll(ctx, fragPaths, cells)
	if err != nil {
		log.Fatalf("reading fragments: %v", err)
	}

	exportOpts := pseudobulk.Opts{
		BedDir:          *bedDir,
		BigWigDir:       *bigwigDir,
		BinSize:         *binSize,
		NormalizeBigWig: !*noNormalize,
		CountDuplicates: *countDups,
		Parallelism:     *parallelism,
	}
	bwPaths, bedPaths, err := pseudobulk.Export(ctx, frags, cells, g, exportOpts)
	if err != nil {
		log.Fatalf("pseudobulk export: %v", err)
	}
	for group, path := range bwPaths {
		log.Debug.Printf("group %s: bigwig %s, fragments %s", group, path, bedPaths[group])
	}
	if *skipPeaks {
		log.Printf("done (peak calling skipped)")
		return
	}

	peakOpts := peakcall.Opts{
		MACSPath:    *macsPath,
		OutDir:      *peaksDir,
		GenomeSize:  *genomeSize,
		Format:      *inputFormat,
		Shift:       *shift,
		ExtSize:     *extSize,
		KeepDup:     *keepDup,
		QValue:      *qValue,
		Parallelism: *parallelism,
	}
	peaks, err := peakcall.CallPeaks(ctx, bedPaths, peakOpts)
	if err != nil {
		log.Fatalf("peak calling: %v", err)
	}
	nPeaks := 0
	for _, groupPeaks := range peaks {
		nPeaks += len(groupPeaks)
	}
	log.Printf("called %d peak(s) across %d group(s)", nPeaks, len(peaks))
	if *consensusPath != "" {
		regions := peakcall.Consensus(peaks, peakcall.PosType(*summitHalf))
		if err := peakcall.WriteRegionsBed(ctx, *consensusPath, regions); err != nil {
			log.Fatalf("writing consensus peaks: %v", err)
		}
		log.Printf("wrote %d consensus region(s) to %s", len(regions), *consensusPath)
	}
}
