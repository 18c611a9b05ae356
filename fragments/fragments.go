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
package fragments

import (
	"bufio"
	"context"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/pseudobulk/util"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// PosType is the integer type used to represent genomic positions.
type PosType = int32

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax = math.MaxInt32

// Fragment is a single sequenced chromatin fragment, as it appears in a
// 10x-style fragments file: a 0-based half-open reference interval, the
// (decorated) cell barcode it was assigned to, and the number of times the
// identical fragment was observed.
type Fragment struct {
	RefName string
	Start   PosType
	End     PosType
	Barcode string
	Count   uint32
}

// CorrectBarcode strips the trailing -<digits> decoration some pipelines
// append to raw cell barcodes (e.g. "AAACGGTT-1" -> "AAACGGTT").  Barcodes
// without a '-' are returned unchanged.
func CorrectBarcode(name string) string {
	if strings.IndexByte(name, '-') == -1 {
		return name
	}
	return strings.TrimRight(name, "-1234567890")
}

// DecorateBarcode appends the sample ID to a (corrected) barcode, producing
// the BARCODE-sample form used as cell-metadata row names.  An empty sampleID
// leaves the barcode untouched.
func DecorateBarcode(barcode, sampleID string) string {
	if sampleID == "" {
		return barcode
	}
	return barcode + "-" + sampleID
}

// ReadFile streams one fragments file (plain text, gzip or bgzf, detected by
// filename) and returns the records whose decorated barcode appears in
// cells.  A nil cells table disables filtering.  Lines starting with '#' are
// skipped.  The optional fifth column (duplicate count) defaults to 1.
//
// Barcode correction is decided once per file, from the first data line:
// when that barcode carries a -<digits> suffix, the suffix is stripped from
// every record before the sample decoration is applied, mirroring the
// convention used by cellranger-atac outputs.
func ReadFile(ctx context.Context, path, sampleID string, cells *CellTable) (frags []Fragment, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			return
		}
		reader = gz
	}
	log.Printf("fragments.ReadFile: reading %s", path)
	return readFragments(bufio.NewScanner(reader), sampleID, cells)
}

func readFragments(scanner *bufio.Scanner, sampleID string, cells *CellTable) (frags []Fragment, err error) {
	var tokens [5][]byte
	lineIdx := 0
	nRead := 0
	correct := false
	correctDecided := false
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		if len(curLine) == 0 || curLine[0] == '#' {
			continue
		}
		nToken := util.GetTokens(tokens[:], curLine)
		if nToken < 4 {
			err = errors.Errorf("fragments.readFragments: line %d has fewer tokens than expected", lineIdx)
			return
		}
		var parsedStart int
		if parsedStart, err = strconv.Atoi(gunsafe.BytesToString(tokens[1])); err != nil {
			err = errors.Wrapf(err, "fragments.readFragments: line %d", lineIdx)
			return
		}
		if parsedStart < 0 {
			err = errors.Errorf("fragments.readFragments: negative start coordinate %s on line %d", tokens[1], lineIdx)
			return
		}
		var parsedEnd int
		if parsedEnd, err = strconv.Atoi(gunsafe.BytesToString(tokens[2])); err != nil {
			err = errors.Wrapf(err, "fragments.readFragments: line %d", lineIdx)
			return
		}
		if (parsedEnd < parsedStart) || (parsedEnd >= PosTypeMax) {
			err = errors.Errorf("fragments.readFragments: invalid coordinate pair on line %d", lineIdx)
			return
		}
		count := uint32(1)
		if nToken == 5 {
			var parsedCount int
			if parsedCount, err = strconv.Atoi(gunsafe.BytesToString(tokens[4])); err != nil {
				err = errors.Wrapf(err, "fragments.readFragments: line %d", lineIdx)
				return
			}
			if parsedCount < 1 {
				err = errors.Errorf("fragments.readFragments: nonpositive duplicate count on line %d", lineIdx)
				return
			}
			count = uint32(parsedCount)
		}
		nRead++
		barcode := string(tokens[3])
		if !correctDecided {
			correct = strings.IndexByte(barcode, '-') != -1
			correctDecided = true
			if correct {
				log.Printf("fragments.readFragments: stripping numeric barcode suffixes")
			}
		}
		if correct {
			barcode = CorrectBarcode(barcode)
		}
		barcode = DecorateBarcode(barcode, sampleID)
		if cells != nil && !cells.Contains(barcode) {
			continue
		}
		frags = append(frags, Fragment{
			RefName: string(tokens[0]),
			Start:   PosType(parsedStart),
			End:     PosType(parsedEnd),
			Barcode: barcode,
			Count:   count,
		})
	}
	if err = scanner.Err(); err != nil {
		return
	}
	log.Printf("fragments.readFragments: kept %d of %d record(s)", len(frags), nRead)
	return
}

// ReadAll reads and concatenates a sample->path map of fragments files,
// filtering each against cells.  Every sample key must match a sample suffix
// present in the cell-metadata row names; anything else indicates the
// metadata and fragment inputs were not produced together.
func ReadAll(ctx context.Context, paths map[string]string, cells *CellTable) ([]Fragment, error) {
	sampleIDs := make([]string, 0, len(paths))
	for sampleID := range paths {
		sampleIDs = append(sampleIDs, sampleID)
	}
	sort.Strings(sampleIDs)
	var all []Fragment
	for _, sampleID := range sampleIDs {
		if cells != nil && !cells.HasSample(sampleID) {
			return nil, errors.Errorf("fragments.ReadAll: sample %q does not match any cell barcode suffix", sampleID)
		}
		frags, err := ReadFile(ctx, paths[sampleID], sampleID, cells)
		if err != nil {
			return nil, errors.Wrapf(err, "fragments.ReadAll: %s", paths[sampleID])
		}
		all = append(all, frags...)
	}
	return all, nil
}

// Partition splits fragments by the group label of their barcode.  The
// result contains an entry for every group in the cell table, including
// groups that retained no fragments; relative fragment order is preserved.
func Partition(frags []Fragment, cells *CellTable) map[string][]Fragment {
	byGroup := make(map[string][]Fragment, len(cells.Groups()))
	for _, group := range cells.Groups() {
		byGroup[group] = nil
	}
	for i := range frags {
		if group, ok := cells.GroupOf(frags[i].Barcode); ok {
			byGroup[group] = append(byGroup[group], frags[i])
		}
	}
	return byGroup
}
