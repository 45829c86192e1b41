// Package loader reads a corpus directory into documents, one per file or per
// page for paged formats.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
)

// Metadata keys set on every loaded document.
const (
	MetaSource      = "source"
	MetaPage        = "page"
	MetaPageLabel   = "page_label"
	MetaTitle       = "title"
	MetaSourceMtime = "source_mtime"
	MetaSourceSize  = "source_size"
)

// Result is the outcome of loading a directory. Failures lists files that
// matched the pattern but could not be read or parsed.
type Result struct {
	Documents []*models.Document
	Files     int
	Failures  []models.FileFailure
}

// Loader walks a directory and extracts matching files.
type Loader struct {
	extractor *extract.Extractor
	recursive bool
	logger    *zap.Logger // optional
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets a logger for per-file debug and failure output.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) { ld.logger = l }
}

// WithRecursive controls whether subdirectories are walked. Default true.
func WithRecursive(r bool) Option {
	return func(ld *Loader) { ld.recursive = r }
}

// New creates a loader. A nil extractor uses extract.NewExtractor().
func New(extractor *extract.Extractor, opts ...Option) *Loader {
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	l := &Loader{extractor: extractor, recursive: true}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the documents of every regular file under dir whose name
// matches pattern. Files that fail to extract are logged, recorded in
// Result.Failures and skipped. Blank pages produce no document.
func (l *Loader) Load(ctx context.Context, dir, pattern string) (*Result, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}

	res := &Result{}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			l.fail(res, path, walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != absDir && !l.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !Match(absDir, path, pattern) {
			return nil
		}
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		res.Files++
		docs, err := l.loadFile(path, finfo)
		if err != nil {
			l.fail(res, path, err)
			return nil
		}
		res.Documents = append(res.Documents, docs...)
		if l.logger != nil {
			l.logger.Debug("loader file loaded", zap.String("path", path), zap.Int("documents", len(docs)))
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

func (l *Loader) loadFile(path string, info os.FileInfo) ([]*models.Document, error) {
	pages, err := l.extractor.Extract(path)
	if err != nil {
		return nil, err
	}
	docs := make([]*models.Document, 0, len(pages))
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		meta := map[string]interface{}{
			MetaSource:      path,
			MetaTitle:       filepath.Base(path),
			MetaSourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			MetaSourceSize:  strconv.FormatInt(info.Size(), 10),
		}
		if p.Number > 0 {
			meta[MetaPage] = p.Number
		}
		if p.Label != "" {
			meta[MetaPageLabel] = p.Label
		}
		docs = append(docs, &models.Document{
			ID:       fileid.PageDocID(path, p.Number),
			Source:   path,
			Page:     p.Number,
			Content:  p.Text,
			Metadata: meta,
		})
	}
	return docs, nil
}

func (l *Loader) fail(res *Result, path string, err error) {
	res.Failures = append(res.Failures, models.FileFailure{Path: path, Error: err.Error()})
	if l.logger != nil {
		l.logger.Warn("loader skipping file", zap.String("path", path), zap.Error(err))
	}
}

// Match reports whether path, found under root, matches pattern. Patterns
// without a separator match the base name; others match the slash-separated
// path relative to root.
func Match(root, path, pattern string) bool {
	if !strings.Contains(pattern, "/") {
		ok, _ := filepath.Match(pattern, filepath.Base(path))
		return ok
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	ok, _ := filepath.Match(pattern, filepath.ToSlash(rel))
	return ok
}
