// Package bulk runs the extract, verify and update workflows over a drive
// folder tree.
package bulk

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/dgallion1/mdbulk/internal/drive"
	"github.com/dgallion1/mdbulk/internal/fields"
	"github.com/dgallion1/mdbulk/internal/runner"
)

// DefaultSuffix selects the documents a traversal extracts.
const DefaultSuffix = ".md"

// Storage is the list/fetch/put contract the workflows need from a drive.
type Storage interface {
	ListChildren(ctx context.Context, ref drive.ItemRef) ([]drive.Item, error)
	Download(ctx context.Context, ref drive.ItemRef) ([]byte, error)
	Upload(ctx context.Context, ref drive.ItemRef, content []byte) error
}

// Options tune a Service.
type Options struct {
	// MaxConcurrent bounds the storage calls in flight; 0 means
	// runner.DefaultMaxConcurrent.
	MaxConcurrent int
	// Suffix of the file names treated as documents; "" means DefaultSuffix.
	Suffix string
	// PartialFailure turns failed items into rows carrying Error instead of
	// aborting the run.
	PartialFailure bool
	// OnTaskDone is passed through to the runner.
	OnTaskDone func(err error)
}

// Service runs workflows against one store with one field configuration.
type Service struct {
	store  Storage
	engine *fields.Engine
	opts   Options
	suffix string
	log    *slog.Logger
}

func NewService(store Storage, engine *fields.Engine, opts Options, log *slog.Logger) *Service {
	suffix := opts.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, engine: engine, opts: opts, suffix: suffix, log: log}
}

// Fields returns the configured field names in order.
func (s *Service) Fields() []string { return s.engine.Fields() }

func (s *Service) runnerOptions() runner.Options {
	return runner.Options{
		MaxConcurrent:   s.opts.MaxConcurrent,
		ContinueOnError: s.opts.PartialFailure,
		OnTaskDone:      s.opts.OnTaskDone,
	}
}

// Extract walks the tree under root and returns one row per document,
// sorted by path. Row paths are relative to a folder root; a file root
// yields at most one row whose path is the file's name. A root of unknown
// kind is treated as a folder.
func (s *Service) Extract(ctx context.Context, root drive.Item) ([]Row, error) {
	seed := root
	if seed.Ref.Kind == drive.KindUnknown {
		seed.Ref.Kind = drive.KindFolder
	}
	if seed.Ref.Kind == drive.KindFolder {
		seed.Name = ""
	}
	report, err := runner.Run(ctx, []WorkItem{{Item: seed}}, s.walk, s.runnerOptions())
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", root.Ref.Path(), err)
	}

	rows := report.Results
	for _, f := range report.Failures {
		rows = append(rows, Row{
			Path:     path.Join(f.Item.ParentPath, f.Item.Item.Name),
			ItemPath: f.Item.Item.Ref.Path(),
			Error:    f.Err.Error(),
		})
	}
	SortByPath(rows)
	s.log.Info("extract complete", "root", root.Ref.Path(), "documents", len(report.Results),
		"failures", len(report.Failures), "processed", report.Processed)
	return rows, nil
}

// Verify fetches every row's document again and stores its current values
// in Original, leaving Fields as given. Rows are returned sorted by path.
func (s *Service) Verify(ctx context.Context, rows []Row) ([]Row, error) {
	out, err := s.perRow(ctx, "verify", rows, s.verifyRow)
	if err != nil {
		return nil, err
	}
	SortByPath(out)
	return out, nil
}

func (s *Service) verifyRow(ctx context.Context, row Row) (Row, error) {
	ref, err := row.Ref()
	if err != nil {
		return Row{}, err
	}
	data, err := s.store.Download(ctx, ref)
	if err != nil {
		return Row{}, fmt.Errorf("fetch %s: %w", row.Path, err)
	}
	out := row.clone()
	out.Error = ""
	out.Original = s.engine.ExtractDocument(data)
	return out, nil
}

// Update writes every row's Fields into its document and uploads documents
// whose content changed. Original is refreshed from the written document.
// Rows are returned in completion order.
func (s *Service) Update(ctx context.Context, rows []Row) ([]Row, error) {
	return s.perRow(ctx, "update", rows, s.updateRow)
}

func (s *Service) updateRow(ctx context.Context, row Row) (Row, error) {
	ref, err := row.Ref()
	if err != nil {
		return Row{}, err
	}
	log := s.log.With("item", row.Path)
	data, err := s.store.Download(ctx, ref)
	if err != nil {
		return Row{}, fmt.Errorf("fetch %s: %w", row.Path, err)
	}
	updated, err := s.engine.UpdateDocument(data, row.Fields)
	if err != nil {
		return Row{}, fmt.Errorf("update %s: %w", row.Path, err)
	}
	if bytes.Equal(updated, data) {
		log.Debug("document unchanged, skipping upload")
	} else {
		if err := s.store.Upload(ctx, ref, updated); err != nil {
			return Row{}, fmt.Errorf("upload %s: %w", row.Path, err)
		}
		log.Info("document updated", "bytes", len(updated))
	}
	out := row.clone()
	out.Error = ""
	out.Original = s.engine.ExtractDocument(updated)
	return out, nil
}

// perRow runs fn over rows with the runner, one task per row.
func (s *Service) perRow(ctx context.Context, name string, rows []Row, fn func(context.Context, Row) (Row, error)) ([]Row, error) {
	handler := func(ctx context.Context, row Row, _ *runner.Queue[Row], results *runner.Results[Row]) error {
		out, err := fn(ctx, row)
		if err != nil {
			return err
		}
		results.Push(out)
		return nil
	}
	report, err := runner.Run(ctx, rows, handler, s.runnerOptions())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	out := report.Results
	for _, f := range report.Failures {
		failed := f.Item.clone()
		failed.Error = f.Err.Error()
		out = append(out, failed)
	}
	s.log.Info(name+" complete", "rows", len(rows), "failures", len(report.Failures))
	return out, nil
}
