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
	"sort"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// CellTable maps decorated cell barcodes (BARCODE-sample row names) to the
// value of one categorical metadata column, the grouping variable.  It is the
// barcode allow-list for fragment filtering and the partitioning key for
// pseudobulk export.
type CellTable struct {
	variable string
	groupOf  map[string]string
	groups   []string
	samples  map[string]bool
}

// NewCellTable builds a CellTable directly from a barcode->group mapping.
// variable is only used for diagnostics.
func NewCellTable(variable string, groupOf map[string]string) *CellTable {
	t := &CellTable{
		variable: variable,
		groupOf:  make(map[string]string, len(groupOf)),
		samples:  make(map[string]bool),
	}
	seen := make(map[string]bool)
	for barcode, group := range groupOf {
		t.groupOf[barcode] = group
		if !seen[group] {
			seen[group] = true
			t.groups = append(t.groups, group)
		}
		t.samples[sampleSuffix(barcode)] = true
	}
	sort.Strings(t.groups)
	return t
}

// ReadCells loads a cell-metadata TSV.  The file must have a header row; the
// first column holds the decorated barcode row names and variable names the
// column used as the grouping label.  Rows whose grouping value is empty are
// dropped.
func ReadCells(ctx context.Context, path, variable string) (cells *CellTable, err error) {
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
	return readCells(bufio.NewScanner(reader), variable)
}

func readCells(scanner *bufio.Scanner, variable string) (*CellTable, error) {
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("fragments.readCells: empty cell-metadata file")
	}
	header := strings.Split(scanner.Text(), "\t")
	varCol := -1
	// Column 0 is the unnamed (or arbitrarily named) row-name column.
	for i := 1; i < len(header); i++ {
		if header[i] == variable {
			varCol = i
			break
		}
	}
	if varCol == -1 {
		return nil, errors.Errorf("fragments.readCells: grouping variable %q not found in header", variable)
	}
	groupOf := make(map[string]string)
	lineIdx := 1
	nDropped := 0
	for scanner.Scan() {
		lineIdx++
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) <= varCol {
			return nil, errors.Errorf("fragments.readCells: line %d has fewer columns than the header", lineIdx)
		}
		barcode := fields[0]
		if barcode == "" {
			return nil, errors.Errorf("fragments.readCells: empty barcode on line %d", lineIdx)
		}
		if _, dup := groupOf[barcode]; dup {
			return nil, errors.Errorf("fragments.readCells: duplicate barcode %q on line %d", barcode, lineIdx)
		}
		group := fields[varCol]
		if group == "" {
			nDropped++
			continue
		}
		groupOf[barcode] = group
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if nDropped > 0 {
		log.Printf("fragments.readCells: dropped %d cell(s) with no %q annotation", nDropped, variable)
	}
	return NewCellTable(variable, groupOf), nil
}

func sampleSuffix(barcode string) string {
	dashPos := strings.LastIndexByte(barcode, '-')
	if dashPos == -1 {
		return ""
	}
	return barcode[dashPos+1:]
}

// Variable returns the name of the grouping column.
func (t *CellTable) Variable() string { return t.variable }

// Len returns the number of annotated cells.
func (t *CellTable) Len() int { return len(t.groupOf) }

// Groups returns the sorted distinct group labels.
func (t *CellTable) Groups() []string {
	groups := make([]string, len(t.groups))
	copy(groups, t.groups)
	return groups
}

// GroupOf returns the group label of a decorated barcode.
func (t *CellTable) GroupOf(barcode string) (string, bool) {
	group, ok := t.groupOf[barcode]
	return group, ok
}

// Contains checks whether the decorated barcode is annotated.
func (t *CellTable) Contains(barcode string) bool {
	_, ok := t.groupOf[barcode]
	return ok
}

// HasSample checks whether any annotated barcode carries the given sample
// suffix.
func (t *CellTable) HasSample(sampleID string) bool {
	return t.samples[sampleID]
}
