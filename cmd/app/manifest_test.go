package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/resultbox/internal/manifest"
)

const processesJSON = `{
	"processid": 0,
	"process-0": {"output": "/data/results/job0", "files": {
		"0": {"fullname": "/data/results/job0/a.filtered.tsv", "display_name": "a.filtered.tsv",
		      "description": "Processed data with all filters applied", "is_visualizable": true,
		      "visualization_type": "full"}
	}}
}`

const dropboxJSON = `{"dropbox": {"0": {"fullname": "/data/dropbox/in.vcf", "display_name": "in.vcf"}}}`

func testManifest(t *testing.T) *manifest.Store {
	t.Helper()
	dir := t.TempDir()
	procs := filepath.Join(dir, "processes.json")
	drop := filepath.Join(dir, "dropbox.json")
	if err := os.WriteFile(procs, []byte(processesJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(drop, []byte(dropboxJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := manifest.Load(procs, drop)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return store
}

func TestQueryManifest(t *testing.T) {
	store := testManifest(t)
	var buf bytes.Buffer
	if err := queryManifest(&buf, store, `$['process-0'].output`); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != `"/data/results/job0"` {
		t.Errorf("got %s", got)
	}
}

func TestQueryManifest_BadPath(t *testing.T) {
	if err := queryManifest(&bytes.Buffer{}, testManifest(t), "$["); err == nil {
		t.Error("expected parse error")
	}
}

func TestPrintSections(t *testing.T) {
	store := testManifest(t)
	var buf bytes.Buffer
	if err := printSections(&buf, store, ""); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"dropbox", "in.vcf", "process-0", "a.filtered.tsv", "full"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := printSections(&buf, store, "dropbox"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "a.filtered.tsv") {
		t.Error("section filter ignored")
	}

	if err := printSections(&buf, store, "process-9"); err == nil {
		t.Error("expected unknown section error")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := expandHome("~/x.yaml"); got != filepath.Join(home, "x.yaml") {
		t.Errorf("got %s", got)
	}
	if got := expandHome("/etc/x.yaml"); got != "/etc/x.yaml" {
		t.Errorf("got %s", got)
	}
}
