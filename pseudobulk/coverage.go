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
package pseudobulk

import (
	"github.com/grailbio/pseudobulk/fragments"
	"github.com/pbenner/gonetics"
)

// coverage accumulates binned mean per-base fragment coverage, one float64
// sequence per genome chromosome, in the layout gonetics.NewSimpleTrack
// expects.
type coverage struct {
	binSize int
	seqs    [][]float64
	lengths []int
	index   map[string]int
	skipped int
}

func newCoverage(g gonetics.Genome, binSize int) *coverage {
	cov := &coverage{
		binSize: binSize,
		seqs:    make([][]float64, len(g.Seqnames)),
		lengths: make([]int, len(g.Seqnames)),
		index:   make(map[string]int, len(g.Seqnames)),
	}
	for i, name := range g.Seqnames {
		length := g.Lengths[i]
		nBins := (length + binSize - 1) / binSize
		cov.seqs[i] = make([]float64, nBins)
		cov.lengths[i] = length
		cov.index[name] = i
	}
	return cov
}

// add accumulates one fragment with the given weight, spreading it over the
// bins it overlaps in proportion to the overlap.  Fragments on chromosomes
// absent from the genome are counted in skipped and ignored.
func (cov *coverage) add(f *fragments.Fragment, weight float64) bool {
	i, ok := cov.index[f.RefName]
	if !ok {
		cov.skipped++
		return false
	}
	start := int(f.Start)
	end := int(f.End)
	if end > cov.lengths[i] {
		end = cov.lengths[i]
	}
	if start < 0 {
		start = 0
	}
	if start >= end {
		return false
	}
	seq := cov.seqs[i]
	binSize := cov.binSize
	for bin := start / binSize; bin*binSize < end; bin++ {
		lo := bin * binSize
		hi := lo + binSize
		if lo < start {
			lo = start
		}
		if hi > end {
			hi = end
		}
		seq[bin] += weight * float64(hi-lo) / float64(binSize)
	}
	return true
}

func (cov *coverage) scale(factor float64) {
	for _, seq := range cov.seqs {
		for i := range seq {
			seq[i] *= factor
		}
	}
}
