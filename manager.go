package testid

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultFilePermissions = 0644
	// DefaultConcurrency bounds how many files AnnotateFiles rewrites at once.
	DefaultConcurrency = 8
)

type Manager interface {
	ScanFile(ctx context.Context, path string) (FileScanInfo, error)
	ScanDirectory(ctx context.Context, rootPath string) iter.Seq2[FileScanInfo, error]
	AnnotateFile(ctx context.Context, path string, dryRun bool) (FileAnnotateInfo, error)
	AnnotateFiles(ctx context.Context, paths []string, dryRun bool) (*AnnotateFilesResult, error)
	AnnotateDirectory(ctx context.Context, rootPath string, dryRun bool) (*AnnotateFilesResult, error)
	AnnotateFileAt(ctx context.Context, path string, line, column int, dryRun bool) (TagEditResult, error)
	AnnotateFileRange(ctx context.Context, path string, start, end int, dryRun bool) (SelectionResult, error)
	MissingAnnotations(ctx context.Context, rootPath string) ([]MissingAnnotation, error)
}

type DefaultManager struct {
	annotator   *Annotator
	validator   Validator
	config      *Config
	logger      *slog.Logger
	concurrency int
}

func NewDefaultManager(config *Config, logger *slog.Logger) (*DefaultManager, error) {
	validator := NewDefaultValidator()
	if err := validator.ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	annotator, err := NewAnnotator(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create annotator: %w", err)
	}

	if logger == nil {
		logger = discardLogger()
	}

	return &DefaultManager{
		annotator:   annotator,
		validator:   validator,
		config:      config,
		logger:      logger,
		concurrency: DefaultConcurrency,
	}, nil
}

func (m *DefaultManager) Annotator() *Annotator {
	return m.annotator
}

func (m *DefaultManager) ScanFile(ctx context.Context, path string) (FileScanInfo, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return FileScanInfo{Path: path}, err
	}

	return FileScanInfo{
		Path: path,
		Tags: m.annotator.Scan(string(content)),
	}, nil
}

func (m *DefaultManager) ScanDirectory(ctx context.Context, rootPath string) iter.Seq2[FileScanInfo, error] {
	return func(yield func(FileScanInfo, error) bool) {
		for path, err := range m.walkFiles(ctx, rootPath) {
			if err != nil {
				if !yield(FileScanInfo{}, err) {
					return
				}
				continue
			}

			if !yield(m.ScanFile(ctx, path)) {
				return
			}
		}
	}
}

// walkFiles yields every file under rootPath that has a configured extension
// and is not excluded by directory name or base-name pattern.
func (m *DefaultManager) walkFiles(ctx context.Context, rootPath string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stopped := false
		err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if err != nil {
				if !yield("", err) {
					stopped = true
					return filepath.SkipAll
				}
				return nil
			}

			if d.IsDir() {
				if path != rootPath && slices.Contains(m.config.ExcludeDirs, d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}

			if !m.config.MatchesFile(path) {
				return nil
			}

			if m.config.ExcludesFile(d.Name()) {
				return nil
			}

			if !yield(path, nil) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil && !stopped {
			yield("", err)
		}
	}
}

// AnnotateFile rewrites one file as a whole document. The file is only
// written when its content changes and dryRun is false.
func (m *DefaultManager) AnnotateFile(ctx context.Context, path string, dryRun bool) (FileAnnotateInfo, error) {
	info := FileAnnotateInfo{Path: path}

	content, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}

	result := m.annotator.AnnotateDocument(string(content))
	info.Processed = result.Processed
	info.Changed = result.Changed

	if result.Reason != NoopNone {
		m.logger.Debug("nothing to annotate", "path", path, "reason", string(result.Reason))
		return info, nil
	}

	if result.Changed == 0 || dryRun {
		return info, nil
	}

	if err := writeFilePreservingMode(path, []byte(result.Text)); err != nil {
		return info, err
	}

	m.logger.Debug("annotated file", "path", path, "changed", result.Changed)
	return info, nil
}

func (m *DefaultManager) AnnotateFiles(ctx context.Context, paths []string, dryRun bool) (*AnnotateFilesResult, error) {
	result := &AnnotateFilesResult{
		ModifiedFiles: []FileAnnotateInfo{},
		FailedFiles:   []string{},
		Errors:        []string{},
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for _, path := range paths {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			info, err := m.AnnotateFile(ctx, path, dryRun)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.logger.Warn("failed to annotate file", "path", path, "error", err)
				result.FailedFiles = append(result.FailedFiles, path)
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
				return nil
			}

			if info.Changed > 0 {
				result.ModifiedFiles = append(result.ModifiedFiles, info)
				result.TagsChanged += info.Changed
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	slices.SortFunc(result.ModifiedFiles, func(a, b FileAnnotateInfo) int {
		return strings.Compare(a.Path, b.Path)
	})
	slices.Sort(result.FailedFiles)
	slices.Sort(result.Errors)

	return result, nil
}

func (m *DefaultManager) AnnotateDirectory(ctx context.Context, rootPath string, dryRun bool) (*AnnotateFilesResult, error) {
	if err := m.validator.ValidatePath(rootPath); err != nil {
		return nil, fmt.Errorf("invalid root path: %w", err)
	}

	var paths []string
	for path, err := range m.walkFiles(ctx, rootPath) {
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", rootPath, err)
		}
		paths = append(paths, path)
	}

	m.logger.Debug("annotating directory", "root", rootPath, "files", len(paths))
	return m.AnnotateFiles(ctx, paths, dryRun)
}

// AnnotateFileAt annotates the single tag under the 1-based line and column.
func (m *DefaultManager) AnnotateFileAt(ctx context.Context, path string, line, column int, dryRun bool) (TagEditResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return TagEditResult{}, err
	}
	text := string(content)

	offset, err := OffsetAt(text, line, column)
	if err != nil {
		return TagEditResult{}, err
	}

	result, err := m.annotator.AnnotateAt(text, offset)
	if err != nil {
		return result, err
	}

	if result.Changed && !dryRun {
		if err := writeFilePreservingMode(path, []byte(ApplyEdits(text, []Edit{result.Edit}))); err != nil {
			return result, err
		}
	}
	return result, nil
}

// AnnotateFileRange annotates the tags inside the byte range [start, end).
func (m *DefaultManager) AnnotateFileRange(ctx context.Context, path string, start, end int, dryRun bool) (SelectionResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return SelectionResult{}, err
	}
	text := string(content)

	result, err := m.annotator.AnnotateSelection(text, start, end)
	if err != nil {
		return result, err
	}

	if result.Changed > 0 && !dryRun {
		if err := writeFilePreservingMode(path, []byte(ApplyEdits(text, []Edit{result.Edit}))); err != nil {
			return result, err
		}
	}
	return result, nil
}

// MissingAnnotations lists in-scope tags without an annotation value, along
// with the identifier a document rewrite would give each of them.
func (m *DefaultManager) MissingAnnotations(ctx context.Context, rootPath string) ([]MissingAnnotation, error) {
	if err := m.validator.ValidatePath(rootPath); err != nil {
		return nil, fmt.Errorf("invalid root path: %w", err)
	}

	var missing []MissingAnnotation
	for path, err := range m.walkFiles(ctx, rootPath) {
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", rootPath, err)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			m.logger.Warn("failed to read file", "path", path, "error", err)
			continue
		}

		missing = append(missing, m.missingInText(path, string(content))...)
	}

	return missing, nil
}

func (m *DefaultManager) missingInText(path, text string) []MissingAnnotation {
	tags := m.annotator.Scan(text)
	ledger := NewLedger(tags)

	var missing []MissingAnnotation
	for _, tag := range tags {
		if !m.config.InScope(tag.TagName) {
			continue
		}

		ledger.Release(tag.AnnotationValue)
		id := assignID(tag, m.config, ledger)
		if strings.TrimSpace(tag.AnnotationValue) != "" {
			continue
		}

		line, column := PositionAt(text, tag.Span.Start)
		missing = append(missing, MissingAnnotation{
			Path:      path,
			Line:      line,
			Column:    column,
			TagName:   tag.TagName,
			Suggested: id,
		})
	}
	return missing
}

func writeFilePreservingMode(path string, data []byte) error {
	perm := os.FileMode(DefaultFilePermissions)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	return os.WriteFile(path, data, perm)
}
