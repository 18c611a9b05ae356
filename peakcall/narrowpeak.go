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
package peakcall

import (
	"bufio"
	"context"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/pseudobulk/fragments"
	"github.com/pkg/errors"
)

// PosType is the integer type used to represent genomic positions.
type PosType = fragments.PosType

// NarrowPeak is one row of a MACS2 ENCODE-narrowPeak table: a called peak
// with its summary statistics.  Coordinates are 0-based half-open; Summit is
// the summit offset relative to Start.
type NarrowPeak struct {
	RefName    string
	Start      PosType
	End        PosType
	Name       string
	Score      uint32
	Strand     byte
	FoldChange float64
	PValLog10  float64
	QValLog10  float64
	Summit     PosType
}

// ReadNarrowPeaks parses a MACS2 <name>_peaks.narrowPeak file.
func ReadNarrowPeaks(ctx context.Context, path string) (peaks []NarrowPeak, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	scanner := bufio.NewScanner(infile.Reader(ctx))
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 10 {
			err = errors.Errorf("peakcall.ReadNarrowPeaks: %s: line %d has %d columns, expected 10", path, lineIdx, len(fields))
			return
		}
		var peak NarrowPeak
		if peak, err = parseNarrowPeak(fields); err != nil {
			err = errors.Wrapf(err, "peakcall.ReadNarrowPeaks: %s: line %d", path, lineIdx)
			return
		}
		peaks = append(peaks, peak)
	}
	err = scanner.Err()
	return
}

func parseNarrowPeak(fields []string) (peak NarrowPeak, err error) {
	peak.RefName = fields[0]
	var start, end, score, summit int
	if start, err = strconv.Atoi(fields[1]); err != nil {
		return
	}
	if end, err = strconv.Atoi(fields[2]); err != nil {
		return
	}
	if start < 0 || end < start {
		err = errors.Errorf("invalid coordinate pair %d-%d", start, end)
		return
	}
	peak.Start = PosType(start)
	peak.End = PosType(end)
	peak.Name = fields[3]
	if score, err = strconv.Atoi(fields[4]); err != nil {
		return
	}
	peak.Score = uint32(score)
	if len(fields[5]) != 1 {
		err = errors.Errorf("invalid strand %q", fields[5])
		return
	}
	peak.Strand = fields[5][0]
	if peak.FoldChange, err = strconv.ParseFloat(fields[6], 64); err != nil {
		return
	}
	if peak.PValLog10, err = strconv.ParseFloat(fields[7], 64); err != nil {
		return
	}
	if peak.QValLog10, err = strconv.ParseFloat(fields[8], 64); err != nil {
		return
	}
	if summit, err = strconv.Atoi(fields[9]); err != nil {
		return
	}
	peak.Summit = PosType(summit)
	return
}
