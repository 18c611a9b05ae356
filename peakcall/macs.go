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

// Package peakcall invokes the external MACS2 binary on per-group
// pseudobulk fragments files and parses its narrowPeak output.
package peakcall

import (
	"context"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
)

// Opts controls MACS2 invocation.  The defaults follow ATAC-seq practice:
// model-free cut-site calling with a 73bp shift and 146bp extension.
type Opts struct {
	// MACSPath is the MACS2 binary, resolved through $PATH when bare.
	MACSPath string
	// OutDir receives the MACS2 output files for all groups.
	OutDir string
	// GenomeSize is the MACS2 effective genome size ('hs', 'mm', 'ce',
	// 'dm', or a number).
	GenomeSize string
	// Format is the MACS2 input format for the fragments files.
	Format string
	// Shift and ExtSize position the model-free pileup window.
	Shift   int
	ExtSize int
	// KeepDup is the MACS2 duplicate policy.
	KeepDup string
	// QValue is the minimum-FDR cutoff for reported peaks.
	QValue float64
	// Parallelism bounds the number of concurrent MACS2 processes.
	// 0 means one process per group.
	Parallelism int
}

// DefaultOpts holds the standard ATAC-seq settings.
var DefaultOpts = Opts{
	MACSPath:   "macs2",
	GenomeSize: "hs",
	Format:     "BEDPE",
	Shift:      73,
	ExtSize:    146,
	KeepDup:    "all",
	QValue:     0.05,
}

// callpeakArgs renders the MACS2 callpeak argument list for one group.
func callpeakArgs(group, bedPath string, opts Opts) []string {
	return []string{
		"callpeak",
		"--treatment", bedPath,
		"--name", group,
		"--outdir", opts.OutDir,
		"--format", opts.Format,
		"--gsize", opts.GenomeSize,
		"--qvalue", strconv.FormatFloat(opts.QValue, 'g', -1, 64),
		"--nomodel",
		"--shift", strconv.Itoa(opts.Shift),
		"--extsize", strconv.Itoa(opts.ExtSize),
		"--keep-dup", opts.KeepDup,
		"--call-summits",
		"--nolambda",
	}
}

// CallPeaks runs MACS2 callpeak on every entry of the group -> fragments
// path map, in parallel, and returns the parsed narrowPeak records per
// group.  Any non-zero subprocess exit aborts the whole call; the error
// preserves the failing command line and the subprocess output.
func CallPeaks(ctx context.Context, bedPaths map[string]string, opts Opts) (map[string][]NarrowPeak, error) {
	if err := os.MkdirAll(opts.OutDir, 0777); err != nil {
		return nil, err
	}
	groups := make([]string, 0, len(bedPaths))
	for group := range bedPaths {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	log.Printf("peakcall.CallPeaks: calling peaks for %d group(s)", len(groups))

	peaksPerGroup := make([][]NarrowPeak, len(groups))
	each := traverse.Each
	if opts.Parallelism > 0 {
		each = traverse.Limit(opts.Parallelism).Each
	}
	err := each(len(groups), func(i int) error {
		group := groups[i]
		peaks, err := callPeak(ctx, group, bedPaths[group], opts)
		if err != nil {
			return err
		}
		peaksPerGroup[i] = peaks
		return nil
	})
	if err != nil {
		return nil, err
	}
	result := make(map[string][]NarrowPeak, len(groups))
	for i, group := range groups {
		result[group] = peaksPerGroup[i]
	}
	return result, nil
}

func callPeak(ctx context.Context, group, bedPath string, opts Opts) ([]NarrowPeak, error) {
	args := callpeakArgs(group, bedPath, opts)
	log.Printf("peakcall.callPeak: %s: %s %s", group, opts.MACSPath, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, opts.MACSPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, errors.E(err,
			"peakcall.callPeak: command '"+opts.MACSPath+" "+strings.Join(args, " ")+"' failed: "+string(out))
	}
	peaks, err := ReadNarrowPeaks(ctx, file.Join(opts.OutDir, group+"_peaks.narrowPeak"))
	if err != nil {
		return nil, err
	}
	log.Printf("peakcall.callPeak: %s done, %d peak(s)", group, len(peaks))
	return peaks, nil
}
