package peakcall

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallpeakArgs(t *testing.T) {
	opts := DefaultOpts
	opts.OutDir = "/tmp/peaks"
	args := callpeakArgs("B", "/tmp/bed/B.bed.gz", opts)
	assert.Equal(t, []string{
		"callpeak",
		"--treatment", "/tmp/bed/B.bed.gz",
		"--name", "B",
		"--outdir", "/tmp/peaks",
		"--format", "BEDPE",
		"--gsize", "hs",
		"--qvalue", "0.05",
		"--nomodel",
		"--shift", "73",
		"--extsize", "146",
		"--keep-dup", "all",
		"--call-summits",
		"--nolambda",
	}, args)
}

func TestReadNarrowPeaks(t *testing.T) {
	ctx := vcontext.Background()
	peaks, err := ReadNarrowPeaks(ctx, "testdata/test_peaks.narrowPeak")
	require.NoError(t, err)
	require.Len(t, peaks, 2)
	assert.Equal(t, NarrowPeak{
		RefName:    "chr1",
		Start:      100,
		End:        600,
		Name:       "B_peak_1",
		Score:      150,
		Strand:     '.',
		FoldChange: 5.2,
		PValLog10:  10.1,
		QValLog10:  8.3,
		Summit:     250,
	}, peaks[0])
	assert.Equal(t, PosType(1000), peaks[1].Start)
}

func TestReadNarrowPeaksMalformed(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tmpdir, "bad_peaks.narrowPeak")
	require.NoError(t, os.WriteFile(path, []byte("chr1\t100\t200\n"), 0644))
	ctx := vcontext.Background()
	_, err := ReadNarrowPeaks(ctx, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

// fakeMACS writes a macs2 stand-in that copies the canned narrowPeak table
// into --outdir under the requested --name.
func fakeMACS(t *testing.T, dir string) string {
	src, err := filepath.Abs("testdata/test_peaks.narrowPeak")
	require.NoError(t, err)
	script := `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    --name) name="$2"; shift 2 ;;
    --outdir) outdir="$2"; shift 2 ;;
    *) shift ;;
  esac
done
cp "` + src + `" "$outdir/${name}_peaks.narrowPeak"
`
	path := filepath.Join(dir, "macs2")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestCallPeaks(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	opts := DefaultOpts
	opts.MACSPath = fakeMACS(t, tmpdir)
	opts.OutDir = filepath.Join(tmpdir, "peaks")
	opts.Parallelism = 2
	peaks, err := CallPeaks(ctx, map[string]string{
		"B":      filepath.Join(tmpdir, "B.bed.gz"),
		"T_cell": filepath.Join(tmpdir, "T_cell.bed.gz"),
	}, opts)
	require.NoError(t, err)
	require.Len(t, peaks, 2)
	assert.Len(t, peaks["B"], 2)
	assert.Len(t, peaks["T_cell"], 2)
}

func TestCallPeaksFailure(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()

	path := filepath.Join(tmpdir, "macs2")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho 'no such genome' >&2\nexit 3\n"), 0755))
	opts := DefaultOpts
	opts.MACSPath = path
	opts.OutDir = filepath.Join(tmpdir, "peaks")
	_, err := CallPeaks(ctx, map[string]string{"B": "B.bed.gz"}, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such genome")
}

func TestConsensus(t *testing.T) {
	peaks := map[string][]NarrowPeak{
		"B": {
			{RefName: "chr1", Start: 100, End: 600, Summit: 250}, // summit 350
			{RefName: "chr2", Start: 50, End: 150, Summit: 10},   // summit 60
		},
		"T": {
			{RefName: "chr1", Start: 300, End: 700, Summit: 60}, // summit 360
			{RefName: "chr1", Start: 0, End: 40, Summit: 2},     // summit 2, clips at 0
		},
	}
	regions := Consensus(peaks, 50)
	assert.Equal(t, []Region{
		{RefName: "chr1", Start: 0, End: 52},
		{RefName: "chr1", Start: 300, End: 410}, // 350±50 and 360±50 merge
		{RefName: "chr2", Start: 10, End: 110},
	}, regions)

	// halfWidth <= 0 merges the full peak intervals.
	full := Consensus(peaks, 0)
	assert.Equal(t, []Region{
		{RefName: "chr1", Start: 0, End: 40},
		{RefName: "chr1", Start: 100, End: 700},
		{RefName: "chr2", Start: 50, End: 150},
	}, full)
}

func TestWriteRegionsBed(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()

	path := filepath.Join(tmpdir, "consensus.bed")
	regions := []Region{
		{RefName: "chr1", Start: 0, End: 52},
		{RefName: "chr2", Start: 10, End: 110},
	}
	require.NoError(t, WriteRegionsBed(ctx, path, regions))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "chr1\t0\t52\nchr2\t10\t110\n", string(data))
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}
