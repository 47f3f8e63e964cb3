package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/store"
)

// SyncMode says what a sync did to the store.
type SyncMode string

const (
	// SyncModeNone means the store already matched the directory.
	SyncModeNone SyncMode = "none"
	// SyncModeAdd means only new files were embedded and appended.
	SyncModeAdd SyncMode = "add"
	// SyncModeBuild means the index was rebuilt from scratch.
	SyncModeBuild SyncMode = "build"
)

// SyncResult summarizes a sync.
type SyncResult struct {
	Mode    SyncMode `json:"mode"`
	Files   int      `json:"files"`
	Added   int      `json:"added"`
	Changed int      `json:"changed"`
	Removed int      `json:"removed"`
	Skipped int      `json:"skipped"`
	Vectors int      `json:"vectors"`
}

type sourceFile struct {
	path        string
	source      string
	docID       string
	fingerprint string
}

func newSourceFile(root, path string, info fs.FileInfo) *sourceFile {
	source := fileid.SourceName(root, path)
	return &sourceFile{
		path:        path,
		source:      source,
		docID:       fileid.DocID(source),
		fingerprint: fileid.Fingerprint(info),
	}
}

// Sync brings the store in line with the files under dir and saves it. dir must
// be the data directory or lie within it; an empty dir means the data directory.
// Sources are always named relative to the data directory, and only catalogued
// files under dir can count as removed.
//
// An uninitialized store, a changed or deleted file, or a catalog that disagrees
// with the store triggers a full rebuild; new files alone are appended with fresh
// IDs. Documents submitted through IndexDocument survive a rebuild.
func (idx *Indexer) Sync(ctx context.Context, dir string) (*SyncResult, error) {
	return idx.sync(ctx, dir, false)
}

// Build rebuilds the store from the files under dir regardless of what changed,
// renumbering identifiers from zero, and saves it.
func (idx *Indexer) Build(ctx context.Context, dir string) (*SyncResult, error) {
	return idx.sync(ctx, dir, true)
}

func (idx *Indexer) sync(ctx context.Context, dir string, force bool) (*SyncResult, error) {
	root, scope, err := idx.resolveScope(dir)
	if err != nil {
		return nil, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	files, err := idx.scan(root, scope)
	if err != nil {
		return nil, err
	}
	catalog, err := idx.catalogDocuments(ctx)
	if err != nil {
		return nil, err
	}
	catalogChunks, err := idx.storage.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	known := make(map[string]string, len(catalog))
	for _, d := range catalog {
		known[d.ID] = d.Fingerprint
	}

	result := &SyncResult{Files: len(files)}
	var added []*sourceFile
	onDisk := make(map[string]bool, len(files))
	for _, f := range files {
		onDisk[f.docID] = true
		old, ok := known[f.docID]
		switch {
		case !ok:
			added = append(added, f)
		case old != f.fingerprint:
			result.Changed++
		}
	}
	// Catalogued documents the scan cannot account for are carried into a rebuild:
	// submitted documents and files outside the scanned subtree.
	scopeName := fileid.SourceName(root, scope)
	var kept []*models.Document
	for _, d := range catalog {
		switch {
		case !fileid.IsFileDocID(d.ID):
			kept = append(kept, d)
		case onDisk[d.ID]:
		case inScope(scopeName, d.Source):
			result.Removed++
		default:
			kept = append(kept, d)
		}
	}

	rebuild := force ||
		!idx.store.Initialized() ||
		result.Changed > 0 ||
		result.Removed > 0 ||
		int(catalogChunks) != idx.store.Size()

	switch {
	case rebuild:
		docs, err := idx.extractAll(ctx, files)
		if err != nil {
			return nil, err
		}
		result.Skipped = len(files) - len(docs)
		docs = append(docs, kept...)
		if len(docs) == 0 {
			return nil, fmt.Errorf("no documents found in %s: %w", scope, store.ErrEmptyInput)
		}
		if err := idx.rebuildLocked(ctx, docs); err != nil {
			return nil, err
		}
		result.Mode = SyncModeBuild
		result.Added = len(added)
	case len(added) > 0:
		docs, err := idx.extractAll(ctx, added)
		if err != nil {
			return nil, err
		}
		result.Skipped = len(added) - len(docs)
		if len(docs) == 0 {
			result.Mode = SyncModeNone
			result.Vectors = idx.store.Size()
			return result, nil
		}
		if err := idx.addLocked(ctx, docs); err != nil {
			return nil, err
		}
		result.Mode = SyncModeAdd
		result.Added = len(docs)
	default:
		result.Mode = SyncModeNone
		result.Vectors = idx.store.Size()
		return result, nil
	}

	if err := idx.store.Save(); err != nil {
		return nil, err
	}
	result.Vectors = idx.store.Size()
	idx.logger.Info("Sync complete",
		zap.String("dir", scope),
		zap.String("mode", string(result.Mode)),
		zap.Int("files", result.Files),
		zap.Int("added", result.Added),
		zap.Int("changed", result.Changed),
		zap.Int("removed", result.Removed),
		zap.Int("vectors", result.Vectors))
	return result, nil
}

// resolveScope returns the absolute data directory and the absolute directory to
// scan. An empty dir scans the whole data directory; any other dir must lie within it.
func (idx *Indexer) resolveScope(dir string) (root, scope string, err error) {
	if dir == "" {
		dir = idx.ingest.DataDir
	}
	if dir == "" {
		return "", "", fmt.Errorf("no directory to sync")
	}
	if scope, err = filepath.Abs(dir); err != nil {
		return "", "", fmt.Errorf("absolute path: %w", err)
	}
	if idx.ingest.DataDir == "" {
		return scope, scope, nil
	}
	if root, err = filepath.Abs(idx.ingest.DataDir); err != nil {
		return "", "", fmt.Errorf("absolute path: %w", err)
	}
	if !within(root, scope) {
		return "", "", fmt.Errorf("%s: %w", scope, ErrOutsideDataDir)
	}
	return root, scope, nil
}

// within reports whether path is root or lies below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// inScope reports whether a catalogued source name lies under the scanned subtree.
func inScope(scopeName, source string) bool {
	return scopeName == "." || source == scopeName || strings.HasPrefix(source, scopeName+"/")
}

// scan lists the regular files under dir with a configured extension, in lexical
// order, naming each relative to root.
func (idx *Indexer) scan(root, dir string) ([]*sourceFile, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}
	var files []*sourceFile
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if len(idx.ingest.Extensions) > 0 && !idx.ingest.HasExtension(path) {
			return nil
		}
		// Resolve symlinks so only regular files are ingested.
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		files = append(files, newSourceFile(root, path, finfo))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}

// extractAll loads files concurrently and returns documents in file order. Files
// that fail to extract or hold no text are logged and left out.
func (idx *Indexer) extractAll(ctx context.Context, files []*sourceFile) ([]*models.Document, error) {
	docs := make([]*models.Document, len(files))
	g, gctx := errgroup.WithContext(ctx)
	workers := idx.ingest.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			text, err := idx.extractContent(f.path)
			if err != nil {
				idx.logger.Warn("Skipping file", zap.String("path", f.path), zap.Error(err))
				return nil
			}
			if strings.TrimSpace(text) == "" {
				idx.logger.Debug("Skipping empty file", zap.String("path", f.path))
				return nil
			}
			docs[i] = &models.Document{
				ID:          f.docID,
				Title:       filepath.Base(f.path),
				Source:      f.source,
				Content:     text,
				Fingerprint: f.fingerprint,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*models.Document, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (idx *Indexer) extractContent(path string) (string, error) {
	if idx.extractor != nil {
		return idx.extractor.Extract(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}
