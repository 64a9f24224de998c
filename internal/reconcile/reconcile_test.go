package reconcile

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/resultbox/internal/classify"
	"github.com/starford/resultbox/internal/manifest"
	"github.com/starford/resultbox/internal/models"
	"github.com/starford/resultbox/internal/storage"
)

const dropRoot = "/data/dropbox"

func memTree(t *testing.T, root string, files ...string) storage.Lister {
	t.Helper()
	fs := memfs.New()
	for _, f := range files {
		require.NoError(t, util.WriteFile(fs, f, []byte(f), 0o644))
	}
	return storage.NewTreeFS(root, fs)
}

// testStore creates a store backed by files in a temp dir with an empty
// dropbox and two jobs.
func testStore(t *testing.T) *manifest.Store {
	t.Helper()
	dir := t.TempDir()
	procFile := filepath.Join(dir, "processes.json")
	dropFile := filepath.Join(dir, "dropbox.json")
	doc := manifest.NewDocument(procFile, dropFile)
	require.NoError(t, doc.Add(manifest.KeyProcessID, manifest.Counter(1), procFile))
	require.NoError(t, doc.Add(manifest.KeyDropbox, manifest.Section{}, dropFile))
	require.NoError(t, doc.Add(manifest.JobKey(0), &manifest.Job{Output: "/data/results/job0"}, procFile))
	require.NoError(t, doc.Add(manifest.JobKey(1), &manifest.Job{Output: "/data/results/job1", Files: manifest.Section{}}, procFile))
	return manifest.New(doc)
}

func snapshot(t *testing.T, st *manifest.Store, section string) manifest.Section {
	t.Helper()
	var out manifest.Section
	require.NoError(t, st.View(func(doc *manifest.Document) error {
		s, _ := doc.Section(section)
		out = s.Clone()
		return nil
	}))
	return out
}

type fakeDropper struct {
	mu      sync.Mutex
	dropped []string
}

func (f *fakeDropper) Drop(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, name)
	return nil
}

func TestDirectory_NewFiles(t *testing.T) {
	cls := classify.New(0)
	section := manifest.Section{}
	res, err := Directory(memTree(t, dropRoot, "a.vcf", "b.tsv"), section, cls)
	require.NoError(t, err)

	assert.Len(t, res.Added, 2)
	require.Len(t, section, 2)
	assert.NotEqual(t, res.Added[0], res.Added[1])

	byName := map[string]models.FileRecord{}
	for _, rec := range section {
		byName[rec.DisplayName] = rec
	}
	a := byName["a.vcf"]
	assert.Equal(t, "/data/dropbox/a.vcf", a.Fullname)
	assert.Equal(t, classify.Classify("vcf").Description, a.Description)
	assert.False(t, a.Visualizable)
	b := byName["b.tsv"]
	assert.Equal(t, "/data/dropbox/b.tsv", b.Fullname)
	assert.Equal(t, "Raw input data parsed out of the input vcf", b.Description)
}

func TestDirectory_Idempotent(t *testing.T) {
	cls := classify.New(0)
	tree := memTree(t, dropRoot, "a.vcf", "sub/c.filtered.tsv", "d.log")
	section := manifest.Section{}
	_, err := Directory(tree, section, cls)
	require.NoError(t, err)
	before := section.Clone()

	res, err := Directory(tree, section, cls)
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Equal(t, before, section)
}

func TestDirectory_PurgesThenReusesIDs(t *testing.T) {
	cls := classify.New(0)
	section := manifest.Section{
		"0": cls.Record(dropRoot, "/data/dropbox/gone.vcf"),
		"1": cls.Record(dropRoot, "/data/dropbox/kept.vcf"),
	}
	res, err := Directory(memTree(t, dropRoot, "kept.vcf", "new.log"), section, cls)
	require.NoError(t, err)

	assert.Equal(t, []string{"0"}, res.Removed)
	assert.Equal(t, []string{"0"}, res.Added)
	assert.Equal(t, "/data/dropbox/new.log", section["0"].Fullname)
	assert.Equal(t, "/data/dropbox/kept.vcf", section["1"].Fullname)
}

func TestDirectory_UpgradesLegacyRecords(t *testing.T) {
	cls := classify.New(0)
	section := manifest.Section{
		"0": {Fullname: "sample.vcf"},
		"1": {Fullname: "/data/dropbox/x.chop.tsv"},
	}
	res, err := Directory(memTree(t, dropRoot, "sample.vcf", "x.chop.tsv"), section, cls)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"0", "1"}, res.Upgraded)
	assert.Empty(t, res.Added)
	assert.Equal(t, "/data/dropbox/sample.vcf", section["0"].Fullname)
	assert.Equal(t, "sample.vcf", section["0"].DisplayName)
	assert.True(t, section["1"].Visualizable)
	assert.Equal(t, models.VisualizationFull, section["1"].VisualizationType)
}

func TestDirectory_DropsDuplicatePaths(t *testing.T) {
	cls := classify.New(0)
	rec := cls.Record(dropRoot, "/data/dropbox/a.vcf")
	section := manifest.Section{"0": rec, "3": rec}
	res, err := Directory(memTree(t, dropRoot, "a.vcf"), section, cls)
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, res.Removed)
	assert.Len(t, section, 1)
}

func TestStartup_SyncsEveryJob(t *testing.T) {
	st := testStore(t)
	trees := map[string]storage.Lister{
		"/data/results/job0": memTree(t, "/data/results/job0", "MHC_Class_I/s.filtered.condensed.ranked.tsv", "log.log"),
		"/data/results/job1": memTree(t, "/data/results/job1"),
	}
	open := func(dir string) storage.Lister { return trees[dir] }

	err := Startup(st, memTree(t, dropRoot, "in.vcf"), open, classify.New(0), discardLogger())
	require.NoError(t, err)

	assert.Len(t, snapshot(t, st, manifest.KeyDropbox), 1)
	job0 := snapshot(t, st, manifest.JobKey(0))
	require.Len(t, job0, 2)
	id, ok := job0.FindByPath("/data/results/job0/MHC_Class_I/s.filtered.condensed.ranked.tsv")
	require.True(t, ok)
	assert.Equal(t, models.VisualizationCondensed, job0[id].VisualizationType)
	assert.Equal(t, "MHC_Class_I/s.filtered.condensed.ranked.tsv", job0[id].DisplayName)
	assert.Empty(t, snapshot(t, st, manifest.JobKey(1)))
}

func TestReconciler_CreateDeleteDropbox(t *testing.T) {
	st := testStore(t)
	drops := &fakeDropper{}
	var changes []Change
	r := NewReconciler(st, DropboxOwner{Root: dropRoot}, classify.New(0),
		WithTables(drops), WithLogger(discardLogger()),
		WithNotifier(func(c Change) { changes = append(changes, c) }))
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, "/data/dropbox/a.vcf"))
	require.NoError(t, r.Create(ctx, "/data/dropbox/a.vcf"))
	require.NoError(t, r.Create(ctx, "/elsewhere/b.vcf"))
	section := snapshot(t, st, manifest.KeyDropbox)
	require.Len(t, section, 1)
	assert.Equal(t, "a.vcf", section["0"].DisplayName)

	require.NoError(t, r.Delete(ctx, "/data/dropbox/a.vcf"))
	assert.Empty(t, snapshot(t, st, manifest.KeyDropbox))
	assert.Equal(t, []string{"data_dropbox_0"}, drops.dropped)

	require.Len(t, changes, 2)
	assert.Equal(t, ChangeCreated, changes[0].Kind)
	assert.Equal(t, ChangeDeleted, changes[1].Kind)
}

func TestReconciler_DeleteMissingIsNoop(t *testing.T) {
	st := testStore(t)
	r := NewReconciler(st, JobOwners{}, classify.New(0), WithLogger(discardLogger()))
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, "/data/results/job1/a.tsv"))
	before := snapshot(t, st, manifest.JobKey(1))

	assert.NoError(t, r.Delete(ctx, "/data/results/job1/never-existed.tsv"))
	assert.NoError(t, r.Delete(ctx, "/nowhere/x"))
	assert.Equal(t, before, snapshot(t, st, manifest.JobKey(1)))
}

func TestReconciler_DeleteDirectoryRemovesChildren(t *testing.T) {
	st := testStore(t)
	r := NewReconciler(st, JobOwners{}, classify.New(0), WithLogger(discardLogger()))
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, "/data/results/job0/MHC_Class_I/a.tsv"))
	require.NoError(t, r.Create(ctx, "/data/results/job0/MHC_Class_I/b.tsv"))
	require.NoError(t, r.Create(ctx, "/data/results/job0/top.log"))

	require.NoError(t, r.Delete(ctx, "/data/results/job0/MHC_Class_I"))
	section := snapshot(t, st, manifest.JobKey(0))
	require.Len(t, section, 1)
	_, ok := section.FindByPath("/data/results/job0/top.log")
	assert.True(t, ok)
}

func TestReconciler_MoveWithinOwnerKeepsID(t *testing.T) {
	st := testStore(t)
	r := NewReconciler(st, JobOwners{}, classify.New(0), WithLogger(discardLogger()))
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, "/data/results/job0/x.tsv"))
	require.NoError(t, r.Create(ctx, "/data/results/job0/y.tsv"))
	id, _ := snapshot(t, st, manifest.JobKey(0)).FindByPath("/data/results/job0/y.tsv")

	require.NoError(t, r.Move(ctx, "/data/results/job0/y.tsv", "/data/results/job0/sub/y.chop.tsv"))
	section := snapshot(t, st, manifest.JobKey(0))
	require.Len(t, section, 2)
	rec := section[id]
	assert.Equal(t, "/data/results/job0/sub/y.chop.tsv", rec.Fullname)
	assert.Equal(t, "sub/y.chop.tsv", rec.DisplayName)
	assert.True(t, rec.Visualizable)
	assert.Equal(t, "Processed and filtered data, with peptide cleavage data added", rec.Description)
}

func TestReconciler_MoveAcrossOwners(t *testing.T) {
	st := testStore(t)
	drops := &fakeDropper{}
	r := NewReconciler(st, JobOwners{}, classify.New(0), WithTables(drops), WithLogger(discardLogger()))
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, "/data/results/job1/pre.tsv"))
	require.NoError(t, r.Create(ctx, "/data/results/job0/a.vcf"))

	require.NoError(t, r.Move(ctx, "/data/results/job0/a.vcf", "/data/results/job1/a.vcf"))
	assert.Empty(t, snapshot(t, st, manifest.JobKey(0)))
	job1 := snapshot(t, st, manifest.JobKey(1))
	require.Len(t, job1, 2)
	id, ok := job1.FindByPath("/data/results/job1/a.vcf")
	require.True(t, ok)
	assert.Equal(t, "1", id)
	assert.Equal(t, []string{"data_0_0"}, drops.dropped)
}

func TestReconciler_MoveIntoAndOutOfRoot(t *testing.T) {
	st := testStore(t)
	r := NewReconciler(st, DropboxOwner{Root: dropRoot}, classify.New(0), WithLogger(discardLogger()))
	ctx := context.Background()

	require.NoError(t, r.Move(ctx, "/tmp/upload.part", "/data/dropbox/upload.vcf"))
	section := snapshot(t, st, manifest.KeyDropbox)
	require.Len(t, section, 1)

	require.NoError(t, r.Move(ctx, "/data/dropbox/upload.vcf", "/tmp/archive.vcf"))
	assert.Empty(t, snapshot(t, st, manifest.KeyDropbox))

	require.NoError(t, r.Move(ctx, "/tmp/a", "/tmp/b"))
	assert.Empty(t, snapshot(t, st, manifest.KeyDropbox))
}

func TestJobOwners_LongestPrefixWins(t *testing.T) {
	doc := manifest.NewDocument()
	require.NoError(t, doc.Add(manifest.KeyProcessID, manifest.Counter(2), "/m.json"))
	require.NoError(t, doc.Add(manifest.JobKey(0), &manifest.Job{Output: "/data/results/run"}, "/m.json"))
	require.NoError(t, doc.Add(manifest.JobKey(2), &manifest.Job{Output: "/data/results/run/nested"}, "/m.json"))

	owner, ok := JobOwners{}.Resolve(doc, "/data/results/run/nested/a.tsv")
	require.True(t, ok)
	assert.Equal(t, "process-2", owner.Key)
	assert.Equal(t, "data_2_5", owner.TableName("5"))

	owner, ok = JobOwners{}.Resolve(doc, "/data/results/run/a.tsv")
	require.True(t, ok)
	assert.Equal(t, "process-0", owner.Key)

	_, ok = JobOwners{}.Resolve(doc, "/data/results/running/a.tsv")
	assert.False(t, ok)
}

func TestReconciler_PersistsEachMutation(t *testing.T) {
	dir := t.TempDir()
	dropFile := filepath.Join(dir, "dropbox.json")
	st, err := manifest.Load(dropFile)
	require.NoError(t, err)
	require.NoError(t, st.EnsureKey(manifest.KeyDropbox, manifest.Section{}, dropFile))

	r := NewReconciler(st, DropboxOwner{Root: dropRoot}, classify.New(0), WithLogger(discardLogger()))
	require.NoError(t, r.Create(context.Background(), "/data/dropbox/a.vcf"))

	reloaded, err := manifest.Load(dropFile)
	require.NoError(t, err)
	assert.Len(t, snapshot(t, reloaded, manifest.KeyDropbox), 1)
}
