package pseudobulk

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/pseudobulk/fragments"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/klauspost/compress/gzip"
	"github.com/pbenner/gonetics"
)

func testGenome() gonetics.Genome {
	g := gonetics.Genome{}
	g.AddSequence("chr1", 100)
	g.AddSequence("chr2", 40)
	return g
}

func TestSanitizeGroup(t *testing.T) {
	expect.EQ(t, SanitizeGroup("T cell"), "T_cell")
	expect.EQ(t, SanitizeGroup("CD4+/naive"), "CD4+_naive")
	expect.EQ(t, SanitizeGroup("B"), "B")
}

func TestCoverageAdd(t *testing.T) {
	cov := newCoverage(testGenome(), 10)
	f := fragments.Fragment{RefName: "chr1", Start: 5, End: 25, Barcode: "x", Count: 1}
	expect.True(t, cov.add(&f, 1))
	expect.EQ(t, cov.seqs[0][0], 0.5)
	expect.EQ(t, cov.seqs[0][1], 1.0)
	expect.EQ(t, cov.seqs[0][2], 0.5)
	expect.EQ(t, cov.seqs[0][3], 0.0)

	// Unknown chromosome is counted, not added.
	f2 := fragments.Fragment{RefName: "chrM", Start: 0, End: 10}
	expect.False(t, cov.add(&f2, 1))
	expect.EQ(t, cov.skipped, 1)

	// Fragments are clipped at the chromosome end.
	f3 := fragments.Fragment{RefName: "chr2", Start: 35, End: 60}
	expect.True(t, cov.add(&f3, 2))
	expect.EQ(t, cov.seqs[1][3], 1.0)
}

func readGzippedLines(t *testing.T, path string) []string {
	f, err := os.Open(path)
	assert.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	assert.NoError(t, err)
	var lines []string
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	assert.NoError(t, scanner.Err())
	return lines
}

func TestExport(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	cells := fragments.NewCellTable("celltype", map[string]string{
		"AAACGG-s1": "B",
		"TTTGCA-s1": "T cell",
	})
	frags := []fragments.Fragment{
		{RefName: "chr1", Start: 10, End: 30, Barcode: "AAACGG-s1", Count: 2},
		{RefName: "chr2", Start: 0, End: 20, Barcode: "AAACGG-s1", Count: 1},
	}
	opts := Opts{
		BedDir:          filepath.Join(tmpdir, "bed"),
		BigWigDir:       filepath.Join(tmpdir, "bw"),
		BinSize:         10,
		NormalizeBigWig: false,
		Parallelism:     1,
	}
	bwPaths, bedPaths, err := Export(ctx, frags, cells, testGenome(), opts)
	assert.NoError(t, err)
	assert.EQ(t, len(bwPaths), 2)
	assert.EQ(t, len(bedPaths), 2)

	expect.EQ(t, readGzippedLines(t, bedPaths["B"]), []string{
		"chr1\t10\t30\tAAACGG-s1\t2",
		"chr2\t0\t20\tAAACGG-s1\t1",
	})
	// The empty group still gets an (empty) fragments file and a track.
	expect.EQ(t, len(readGzippedLines(t, bedPaths["T cell"])), 0)
	for _, group := range []string{"B", "T cell"} {
		_, err := os.Stat(bwPaths[group])
		expect.NoError(t, err)
	}
}
