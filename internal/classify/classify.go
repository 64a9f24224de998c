// Package classify maps file extensions produced by pVAC-Seq runs to a
// description and the viewer the frontend should use for them.
package classify

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/starford/resultbox/internal/models"
)

// DefaultCacheSize bounds the number of memoized extensions.
const DefaultCacheSize = 512

const unknownDescription = "Unknown File"

var table = map[string]models.Info{
	"json": {Description: "Metadata regarding a specific run of pVAC-Seq"},
	"yml":  {Description: "Manifest of auxiliary files supplied to pVAC-Seq"},
	"yaml": {Description: "Manifest of auxiliary files supplied to pVAC-Seq"},
	"log":  {Description: "Transcript of messages produced by pVAC-Seq"},
	"chop.tsv": {
		Description:       "Processed and filtered data, with peptide cleavage data added",
		Visualizable:      true,
		VisualizationType: models.VisualizationFull,
	},
	"all_epitopes.tsv": {
		Description:       "Processed data from IEDB, but with no filtering or extra data",
		Visualizable:      true,
		VisualizationType: models.VisualizationFull,
	},
	"filtered.tsv": {
		Description:       "Processed data with all filters applied",
		Visualizable:      true,
		VisualizationType: models.VisualizationFull,
	},
	"stab.tsv": {
		Description:       "Processed and filtered data, with peptide stability data added",
		Visualizable:      true,
		VisualizationType: models.VisualizationFull,
	},
	"filtered.condensed.ranked.tsv": {
		Description:       "A condensed report of the processed and filtered data, with ranking score added",
		Visualizable:      true,
		VisualizationType: models.VisualizationCondensed,
	},
	"tsv": {Description: "Raw input data parsed out of the input vcf"},
	"vcf": {Description: "Unprocessed input VCF"},
}

type fallback struct {
	pattern *regexp.Regexp
	info    models.Info
}

// Checked in order after the exact table misses.
var fallbacks = []fallback{
	{
		pattern: regexp.MustCompile(`(split|tsv)_\d+-\d+$`),
		info:    models.Info{Description: "A temporary file to cache a subset of the data when working with IEDB"},
	},
	{
		pattern: regexp.MustCompile(`key$`),
		info:    models.Info{Description: "Data used by pVAC-Seq to parse results from IEDB"},
	},
}

// Classify returns the description and visualization flags for ext.
// It never fails: unrecognized input yields "Unknown File".
func Classify(ext string) models.Info {
	if info, ok := table[ext]; ok {
		return info
	}
	for _, fb := range fallbacks {
		if fb.pattern.MatchString(ext) {
			return fb.info
		}
	}
	return models.Info{Description: unknownDescription}
}

// Extension returns everything after the first dot of the base name, so
// "sample.filtered.tsv" yields "filtered.tsv". Names without a dot yield "".
func Extension(path string) string {
	base := filepath.Base(path)
	_, ext, found := strings.Cut(base, ".")
	if !found {
		return ""
	}
	return ext
}

// ClassifyPath classifies the extension of path.
func ClassifyPath(path string) models.Info {
	return Classify(Extension(path))
}

// Entry is one row of the static table.
type Entry struct {
	Extension string `json:"extension"`
	models.Info
}

// Table lists the exact-match entries sorted by extension.
func Table() []Entry {
	out := make([]Entry, 0, len(table))
	for ext, info := range table {
		out = append(out, Entry{Extension: ext, Info: info})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Extension < out[j].Extension })
	return out
}

// Classifier memoizes Classify results in an LRU cache. The regexp fallbacks
// dominate the cost for IEDB fragment names, which repeat heavily in a run.
type Classifier struct {
	cache *lru.Cache[string, models.Info]
}

// New creates a Classifier holding at most size entries.
func New(size int) *Classifier {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, models.Info](size)
	return &Classifier{cache: cache}
}

// Classify is the memoized form of the package-level Classify.
func (c *Classifier) Classify(ext string) models.Info {
	if info, ok := c.cache.Get(ext); ok {
		return info
	}
	info := Classify(ext)
	c.cache.Add(ext, info)
	return info
}

// ClassifyPath classifies the extension of path.
func (c *Classifier) ClassifyPath(path string) models.Info {
	return c.Classify(Extension(path))
}

// Record builds a classified record for fullname located under root.
func (c *Classifier) Record(root, fullname string) models.FileRecord {
	display, err := filepath.Rel(root, fullname)
	if err != nil {
		display = filepath.Base(fullname)
	}
	rec := models.FileRecord{Fullname: fullname, DisplayName: display}
	rec.Apply(c.ClassifyPath(fullname))
	return rec
}
