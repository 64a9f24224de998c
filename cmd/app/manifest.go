package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/ohler55/ojg/jp"
	"github.com/urfave/cli/v3"

	"github.com/starford/resultbox/internal/manifest"
	"github.com/starford/resultbox/internal/models"
)

func runManifest(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := manifest.Load(cfg.Manifest.Processes, cfg.Manifest.Dropbox)
	if err != nil {
		return err
	}

	if q := cmd.String("query"); q != "" {
		return queryManifest(os.Stdout, store, q)
	}
	return printSections(os.Stdout, store, cmd.String("section"))
}

// queryManifest evaluates a JSONPath expression against the merged backing
// files and prints each match as JSON.
func queryManifest(w io.Writer, store *manifest.Store, selector string) error {
	x, err := jp.ParseString(selector)
	if err != nil {
		return fmt.Errorf("invalid jsonpath %q: %w", selector, err)
	}

	root := map[string]any{}
	err = store.View(func(doc *manifest.Document) error {
		for _, f := range doc.Files() {
			data, err := doc.Encode(f)
			if err != nil {
				return err
			}
			var part map[string]any
			if err := json.Unmarshal(data, &part); err != nil {
				return err
			}
			for k, v := range part {
				root[k] = v
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	for _, v := range x.Get(root) {
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return nil
}

type sectionView struct {
	name    string
	entries []models.FileEntry
}

// printSections renders one table per section, or only the named one.
func printSections(w io.Writer, store *manifest.Store, only string) error {
	var views []sectionView
	err := store.View(func(doc *manifest.Document) error {
		if only != "" {
			s, ok := doc.Section(only)
			if !ok {
				return fmt.Errorf("unknown section %q", only)
			}
			views = append(views, sectionView{name: only, entries: s.Entries()})
			return nil
		}
		views = append(views, sectionView{name: manifest.KeyDropbox, entries: doc.Dropbox().Entries()})
		for _, ref := range doc.Jobs() {
			views = append(views, sectionView{name: manifest.JobKey(ref.ID), entries: ref.Job.Files.Entries()})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, v := range views {
		tw := table.NewWriter()
		tw.SetStyle(table.StyleRounded)
		tw.SetTitle(v.name)
		tw.AppendHeader(table.Row{"ID", "Name", "Description", "Viewer"})
		for _, e := range v.entries {
			viewer := "-"
			if e.Visualizable {
				viewer = string(e.VisualizationType)
			}
			tw.AppendRow(table.Row{e.ID, e.DisplayName, e.Description, viewer})
		}
		if _, err := fmt.Fprintln(w, tw.Render()); err != nil {
			return err
		}
	}
	return nil
}
