package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/starford/resultbox/internal/apperr"
	"github.com/starford/resultbox/internal/models"
)

// Well-known record keys.
const (
	KeyProcessID = "processid"
	KeyDropbox   = "dropbox"
)

var jobKeyPattern = regexp.MustCompile(`^process-(\d+)$`)

// JobKey returns the record key of job n.
func JobKey(n int) string {
	return "process-" + strconv.Itoa(n)
}

// ParseJobKey extracts the job number from a "process-<N>" key.
func ParseJobKey(key string) (int, bool) {
	m := jobKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Value is the closed set of things a record key can hold. The kind is fixed
// by the key: processid holds a Counter, dropbox a Section, process-<N> a *Job
// and every other key is kept verbatim as Raw.
type Value interface {
	manifestValue()
}

// Counter is the highest job number handed out so far.
type Counter int

// Raw is a value this package does not interpret.
type Raw json.RawMessage

// Section maps a record id to the metadata of one file.
type Section map[string]models.FileRecord

// Job is a process-<N> record. Only Output and Files are interpreted; the
// remaining fields belong to the job runner and are written back untouched.
type Job struct {
	Output string
	Files  Section
	Extra  map[string]json.RawMessage
}

func (Counter) manifestValue() {}
func (Raw) manifestValue()     {}
func (Section) manifestValue() {}
func (*Job) manifestValue()    {}

// MarshalJSON writes the value itself.
func (r Raw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(r), nil
}

// UnmarshalJSON decodes the current object form as well as the two legacy
// forms: a list of paths (id = position) and bare path strings as values.
// Legacy entries come back unclassified and are completed by reconciliation.
func (s *Section) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	out := Section{}
	switch {
	case bytes.Equal(trimmed, []byte("null")):
	case len(trimmed) > 0 && trimmed[0] == '[':
		var paths []string
		if err := json.Unmarshal(trimmed, &paths); err != nil {
			return fmt.Errorf("section list: %w", err)
		}
		for i, p := range paths {
			out[strconv.Itoa(i)] = models.FileRecord{Fullname: p}
		}
	default:
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return fmt.Errorf("section: %w", err)
		}
		for id, v := range raw {
			v = bytes.TrimSpace(v)
			if len(v) > 0 && v[0] == '"' {
				var p string
				if err := json.Unmarshal(v, &p); err != nil {
					return fmt.Errorf("section entry %s: %w", id, err)
				}
				out[id] = models.FileRecord{Fullname: p}
				continue
			}
			var rec models.FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("section entry %s: %w", id, err)
			}
			out[id] = rec
		}
	}
	*s = out
	return nil
}

// FindByPath returns the id of the record whose fullname is path.
func (s Section) FindByPath(path string) (string, bool) {
	for id, rec := range s {
		if rec.Fullname == path {
			return id, true
		}
	}
	return "", false
}

// Entries returns the records ordered by numeric id.
func (s Section) Entries() []models.FileEntry {
	out := make([]models.FileEntry, 0, len(s))
	for id, rec := range s {
		out = append(out, models.FileEntry{ID: id, FileRecord: rec})
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out
}

// Clone returns an independent copy.
func (s Section) Clone() Section {
	out := make(Section, len(s))
	for id, rec := range s {
		out[id] = rec
	}
	return out
}

func idLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

// MarshalJSON merges the interpreted fields back into the runner's fields.
func (j *Job) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(j.Extra)+2)
	for k, v := range j.Extra {
		out[k] = v
	}
	out["output"] = j.Output
	files := j.Files
	if files == nil {
		files = Section{}
	}
	out["files"] = files
	return json.Marshal(out)
}

// UnmarshalJSON splits output and files from the remaining fields.
func (j *Job) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	j.Extra = make(map[string]json.RawMessage, len(raw))
	j.Output = ""
	j.Files = nil
	for k, v := range raw {
		switch k {
		case "output":
			if err := json.Unmarshal(v, &j.Output); err != nil {
				return fmt.Errorf("job output: %w", err)
			}
		case "files":
			if err := json.Unmarshal(v, &j.Files); err != nil {
				return fmt.Errorf("job files: %w", err)
			}
		default:
			j.Extra[k] = v
		}
	}
	return nil
}

// Document is the in-memory manifest: every record key with its typed value
// and the backing file the key is written to. It is not safe for concurrent
// use; Store serializes access.
type Document struct {
	values map[string]Value
	owners map[string]string
	files  []string
}

// NewDocument creates an empty document backed by files. Files without keys
// are still rewritten on save.
func NewDocument(files ...string) *Document {
	d := &Document{
		values: map[string]Value{},
		owners: map[string]string{},
	}
	for _, f := range files {
		d.addFile(f)
	}
	return d
}

func (d *Document) addFile(file string) {
	for _, f := range d.files {
		if f == file {
			return
		}
	}
	d.files = append(d.files, file)
}

// Register binds key to a backing file. Re-registering moves the key.
func (d *Document) Register(key, file string) {
	d.addFile(file)
	d.owners[key] = file
}

// Set stores v under a registered key.
func (d *Document) Set(key string, v Value) error {
	if _, ok := d.owners[key]; !ok {
		return fmt.Errorf("manifest: set %q: %w", key, apperr.ErrUnregisteredKey)
	}
	if err := checkKind(key, v); err != nil {
		return err
	}
	d.values[key] = v
	return nil
}

// Add registers key to file and stores v.
func (d *Document) Add(key string, v Value, file string) error {
	if err := checkKind(key, v); err != nil {
		return err
	}
	d.Register(key, file)
	d.values[key] = v
	return nil
}

func checkKind(key string, v Value) error {
	var ok bool
	switch {
	case key == KeyProcessID:
		_, ok = v.(Counter)
	case key == KeyDropbox:
		_, ok = v.(Section)
	case jobKeyPattern.MatchString(key):
		_, ok = v.(*Job)
	default:
		_, ok = v.(Raw)
	}
	if !ok {
		return fmt.Errorf("manifest: key %q cannot hold %T", key, v)
	}
	return nil
}

// Has reports whether key holds a value.
func (d *Document) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Get returns the value under key.
func (d *Document) Get(key string) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Delete removes the value under key. The registration is kept so the key
// can be set again.
func (d *Document) Delete(key string) {
	delete(d.values, key)
}

// Keys returns every key holding a value, sorted.
func (d *Document) Keys() []string {
	out := make([]string, 0, len(d.values))
	for k := range d.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Files returns the backing files in registration order.
func (d *Document) Files() []string {
	return append([]string(nil), d.files...)
}

// Owner returns the backing file of key.
func (d *Document) Owner(key string) (string, bool) {
	f, ok := d.owners[key]
	return f, ok
}

// ProcessID returns the job counter, zero when absent.
func (d *Document) ProcessID() int {
	if c, ok := d.values[KeyProcessID].(Counter); ok {
		return int(c)
	}
	return 0
}

// Dropbox returns the dropbox section. The map is live: mutations are
// visible to the document.
func (d *Document) Dropbox() Section {
	s, _ := d.values[KeyDropbox].(Section)
	return s
}

// Job returns job n when present.
func (d *Document) Job(n int) (*Job, bool) {
	j, ok := d.values[JobKey(n)].(*Job)
	return j, ok
}

// JobRef is a job together with its number.
type JobRef struct {
	ID  int
	Job *Job
}

// Jobs returns the jobs 0..processid that exist, in order.
func (d *Document) Jobs() []JobRef {
	var out []JobRef
	for n := 0; n <= d.ProcessID(); n++ {
		if j, ok := d.Job(n); ok {
			out = append(out, JobRef{ID: n, Job: j})
		}
	}
	return out
}

// Section resolves a section name ("dropbox" or "process-<N>") to its files.
func (d *Document) Section(name string) (Section, bool) {
	if name == KeyDropbox {
		s, ok := d.values[KeyDropbox].(Section)
		return s, ok
	}
	n, ok := ParseJobKey(name)
	if !ok {
		return nil, false
	}
	j, ok := d.Job(n)
	if !ok {
		return nil, false
	}
	return j.Files, true
}

// Encode renders the keys owned by file as a tab-indented JSON object.
func (d *Document) Encode(file string) ([]byte, error) {
	owned := map[string]Value{}
	for key, owner := range d.owners {
		if owner != file {
			continue
		}
		if v, ok := d.values[key]; ok {
			owned[key] = v
		}
	}
	data, err := json.MarshalIndent(owned, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("manifest: encode %s: %w", file, err)
	}
	return append(data, '\n'), nil
}

// Decode registers and stores every top-level key of a backing file.
func (d *Document) Decode(file string, data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("manifest: %s: %w: %v", file, apperr.ErrInvalidManifest, err)
	}
	d.addFile(file)
	for key, msg := range raw {
		v, err := decodeValue(key, msg)
		if err != nil {
			return fmt.Errorf("manifest: %s: key %q: %w: %v", file, key, apperr.ErrInvalidManifest, err)
		}
		if err := d.Add(key, v, file); err != nil {
			return err
		}
	}
	return nil
}

// replaceFile swaps the keys owned by file for the content of data. Keys
// the new content no longer holds are dropped.
func (d *Document) replaceFile(file string, data []byte) error {
	fresh := NewDocument(file)
	if err := fresh.Decode(file, data); err != nil {
		return err
	}
	for key, owner := range d.owners {
		if owner == file {
			delete(d.owners, key)
			delete(d.values, key)
		}
	}
	for key, v := range fresh.values {
		d.owners[key] = file
		d.values[key] = v
	}
	return nil
}

func decodeValue(key string, msg json.RawMessage) (Value, error) {
	switch {
	case key == KeyProcessID:
		var n int
		if err := json.Unmarshal(msg, &n); err != nil {
			return nil, err
		}
		return Counter(n), nil
	case key == KeyDropbox:
		var s Section
		if err := json.Unmarshal(msg, &s); err != nil {
			return nil, err
		}
		return s, nil
	case jobKeyPattern.MatchString(key):
		j := &Job{}
		if err := json.Unmarshal(msg, j); err != nil {
			return nil, err
		}
		return j, nil
	}
	return Raw(append([]byte(nil), msg...)), nil
}
