// Package genome loads chromosome-size tables into the gonetics Genome
// model used by the coverage-track writer.
package genome

import (
	"bufio"
	"context"
	"io"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/pseudobulk/util"
	"github.com/klauspost/compress/gzip"
	"github.com/pbenner/gonetics"
	"github.com/pkg/errors"
)

// ReadChromSizes parses a chromosome-sizes table into a gonetics.Genome.
// Both the UCSC two-column form (chrom<TAB>size) and the three-column BED
// form (chrom<TAB>start<TAB>end, size = end-start) are accepted; a single
// header line is tolerated.  Sequence order follows the file.
func ReadChromSizes(ctx context.Context, path string) (g gonetics.Genome, err error) {
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
	return readChromSizes(bufio.NewScanner(reader))
}

func readChromSizes(scanner *bufio.Scanner) (g gonetics.Genome, err error) {
	var tokens [3][]byte
	lineIdx := 0
	seen := make(map[string]bool)
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		nToken := util.GetTokens(tokens[:], curLine)
		if nToken == 0 {
			continue
		}
		if nToken < 2 {
			err = errors.Errorf("genome.readChromSizes: line %d has fewer tokens than expected", lineIdx)
			return
		}
		var col1 int
		if col1, err = strconv.Atoi(gunsafe.BytesToString(tokens[1])); err != nil {
			if lineIdx == 1 {
				// Header line ("Chromosome Start End" or similar).
				err = nil
				continue
			}
			err = errors.Wrapf(err, "genome.readChromSizes: line %d", lineIdx)
			return
		}
		size := col1
		if nToken == 3 {
			var end int
			if end, err = strconv.Atoi(gunsafe.BytesToString(tokens[2])); err != nil {
				err = errors.Wrapf(err, "genome.readChromSizes: line %d", lineIdx)
				return
			}
			size = end - col1
		}
		if size <= 0 {
			err = errors.Errorf("genome.readChromSizes: nonpositive size for %s on line %d", tokens[0], lineIdx)
			return
		}
		name := string(tokens[0])
		if seen[name] {
			err = errors.Errorf("genome.readChromSizes: duplicate chromosome %s on line %d", name, lineIdx)
			return
		}
		seen[name] = true
		g.AddSequence(name, size)
	}
	err = scanner.Err()
	return
}
