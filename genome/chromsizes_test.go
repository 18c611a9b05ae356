package genome

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestReadChromSizes(t *testing.T) {
	ctx := vcontext.Background()
	tests := []string{
		"testdata/chrom.sizes",    // UCSC two-column form
		"testdata/chromsizes.bed", // three-column form with header
	}
	for _, path := range tests {
		g, err := ReadChromSizes(ctx, path)
		assert.NoError(t, err)
		expect.EQ(t, g.Seqnames, []string{"chr1", "chr2"})
		expect.EQ(t, g.Lengths, []int{1000, 500})
	}
}

func TestReadChromSizesMalformed(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	path := filepath.Join(tmpdir, "chrom.sizes")
	// A non-numeric size is only tolerated on the header line.
	assert.NoError(t, os.WriteFile(path, []byte("chr1\t1000\nchr2\tXYZ\n"), 0644))
	_, err := ReadChromSizes(ctx, path)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("got %v, want an error naming line 2", err)
	}
}
