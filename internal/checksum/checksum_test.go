package checksum

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileMatchesSum(t *testing.T) {
	data := []byte("chrom\tpos\n1\t100\n")
	path := filepath.Join(t.TempDir(), "x.tsv")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := File(path)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if want := Sum(data); got != want {
		t.Errorf("File = %s, want %s", got, want)
	}
}

func TestFileMissing(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "nope")); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
