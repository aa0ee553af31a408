package bulk

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/dgallion1/mdbulk/internal/drive"
	"github.com/dgallion1/mdbulk/internal/runner"
)

// walk handles one traversal step. Folders push their children, documents
// push a row, everything else is skipped.
func (s *Service) walk(ctx context.Context, w WorkItem, queue *runner.Queue[WorkItem], results *runner.Results[Row]) error {
	relPath := path.Join(w.ParentPath, w.Item.Name)
	ref := w.Item.Ref
	log := s.log.With("item", relPath)

	switch ref.Kind {
	case drive.KindFile:
		if !strings.HasSuffix(w.Item.Name, s.suffix) {
			return nil
		}
		data, err := s.store.Download(ctx, ref)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", relPath, err)
		}
		results.Push(Row{
			Path:     relPath,
			ItemPath: ref.Path(),
			Fields:   s.engine.ExtractDocument(data),
		})
		log.Debug("extracted document")

	case drive.KindFolder:
		children, err := s.store.ListChildren(ctx, ref)
		if err != nil {
			return fmt.Errorf("list %s: %w", displayPath(relPath), err)
		}
		for _, child := range children {
			queue.Push(WorkItem{ParentPath: relPath, Item: child})
		}
		log.Debug("listed folder", "children", len(children))
	}
	return nil
}

func displayPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}
