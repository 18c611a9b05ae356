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
	"context"
	"sort"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// Region is a single genomic interval with 0-based half-open coordinates.
type Region struct {
	RefName string
	Start   PosType
	End     PosType
}

// Consensus merges the peaks of all groups into one sorted, disjoint
// interval set.  When halfWidth is positive each peak contributes the
// interval of that half-width centered on its summit (clipped at 0);
// otherwise the full peak interval is used.  Touching or overlapping
// intervals are merged.
func Consensus(peaks map[string][]NarrowPeak, halfWidth PosType) []Region {
	var regions []Region
	for _, groupPeaks := range peaks {
		for i := range groupPeaks {
			p := &groupPeaks[i]
			r := Region{RefName: p.RefName, Start: p.Start, End: p.End}
			if halfWidth > 0 {
				summit := p.Start + p.Summit
				r.Start = summit - halfWidth
				if r.Start < 0 {
					r.Start = 0
				}
				r.End = summit + halfWidth
			}
			regions = append(regions, r)
		}
	}
	sort.Slice(regions, func(i, j int) bool {
		if regions[i].RefName != regions[j].RefName {
			return regions[i].RefName < regions[j].RefName
		}
		if regions[i].Start != regions[j].Start {
			return regions[i].Start < regions[j].Start
		}
		return regions[i].End < regions[j].End
	})
	merged := regions[:0]
	for _, r := range regions {
		if n := len(merged); n > 0 && merged[n-1].RefName == r.RefName && r.Start <= merged[n-1].End {
			if r.End > merged[n-1].End {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// WriteRegionsBed writes regions as a 3-column BED.
func WriteRegionsBed(ctx context.Context, path string, regions []Region) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, dst, &err)
	w := tsv.NewWriter(dst.Writer(ctx))
	for i := range regions {
		w.WriteString(regions[i].RefName)
		w.WriteUint32(uint32(regions[i].Start))
		w.WriteUint32(uint32(regions[i].End))
		if err = w.EndLine(); err != nil {
			return
		}
	}
	err = w.Flush()
	return
}
