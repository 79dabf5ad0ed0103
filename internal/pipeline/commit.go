package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/foodgeo/internal/model"
	"github.com/sells-group/foodgeo/internal/store"
)

// commitSet is everything one run persists.
type commitSet struct {
	rows     []model.CleanRecord
	markdown []byte
	yaml     []byte
	entries  []model.IndexEntry
	replace  bool // entries become the whole index of the category
}

func indexEntries(byCode map[string]string) []model.IndexEntry {
	out := make([]model.IndexEntry, 0, len(byCode))
	for code, hash := range byCode {
		out = append(out, model.IndexEntry{Code: code, ContentHash: hash})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// staged is one output file written next to its final path.
type staged struct {
	final  string
	temp   string
	backup string // set once the previous final file was moved aside
	placed bool   // temp has been renamed to final
}

// commit persists snapshot, reports and index entries as one unit. Files
// are staged first, then the index transaction is opened and filled (after
// a reset when the set replaces the whole index), then
// the staged files replace the committed ones, and finally the transaction
// commits. Any failure rolls the transaction back and puts the previous
// files back, so readers see either the old state or the new one.
func (p *Pipeline) commit(ctx context.Context, runID, category string, set commitSet) ([]string, int, error) {
	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return nil, 0, eris.Wrapf(err, "pipeline: create output dir %s", p.outputDir)
	}

	parquetPath, mdPath, yamlPath := p.Paths(category)
	files := []*staged{
		{final: parquetPath},
		{final: mdPath},
		{final: yamlPath},
	}
	for _, f := range files {
		f.temp = filepath.Join(filepath.Dir(f.final), "."+filepath.Base(f.final)+"."+runID+".tmp")
	}

	var tx store.IndexTx
	ok := false
	defer func() {
		if ok {
			return
		}
		if tx != nil {
			if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
				zap.L().Warn("pipeline: index rollback failed", zap.Error(err))
			}
		}
		restore(files)
	}()

	n, err := p.deps.WriteSnapshot(ctx, files[0].temp, set.rows)
	if err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: stage snapshot")
	}
	if err := os.WriteFile(files[1].temp, set.markdown, 0o644); err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: stage markdown report")
	}
	if err := os.WriteFile(files[2].temp, set.yaml, 0o644); err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: stage yaml report")
	}

	tx, err = p.deps.Store.BeginIndex(ctx, category)
	if err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: begin index")
	}
	if set.replace {
		if err := tx.Reset(ctx); err != nil {
			return nil, 0, eris.Wrap(err, "pipeline: reset index")
		}
	}
	if err := tx.Upsert(ctx, set.entries); err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: stage index")
	}

	for _, f := range files {
		if err := place(f); err != nil {
			return nil, 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: commit index")
	}
	ok = true

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.final
		if f.backup != "" {
			if err := os.Remove(f.backup); err != nil {
				zap.L().Warn("pipeline: remove backup", zap.String("path", f.backup), zap.Error(err))
			}
		}
	}
	return out, n, nil
}

// place moves the current final file aside and the staged file into place.
func place(f *staged) error {
	if _, err := os.Stat(f.final); err == nil {
		backup := f.final + ".bak"
		if err := os.Rename(f.final, backup); err != nil {
			return eris.Wrapf(err, "pipeline: back up %s", f.final)
		}
		f.backup = backup
	} else if !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "pipeline: stat %s", f.final)
	}

	if err := os.Rename(f.temp, f.final); err != nil {
		return eris.Wrapf(err, "pipeline: install %s", f.final)
	}
	f.placed = true
	return nil
}

// restore undoes place for every file and removes staged leftovers.
func restore(files []*staged) {
	for _, f := range files {
		if f.placed {
			if err := os.Remove(f.final); err != nil && !errors.Is(err, fs.ErrNotExist) {
				zap.L().Warn("pipeline: remove new file", zap.String("path", f.final), zap.Error(err))
			}
		}
		if f.backup != "" {
			if err := os.Rename(f.backup, f.final); err != nil {
				zap.L().Error("pipeline: restore backup", zap.String("path", f.final), zap.Error(err))
			}
		}
		if err := os.Remove(f.temp); err != nil && !errors.Is(err, fs.ErrNotExist) {
			zap.L().Warn("pipeline: remove staged file", zap.String("path", f.temp), zap.Error(err))
		}
	}
}
