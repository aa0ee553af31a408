package bulk

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dgallion1/mdbulk/internal/drive"
)

// OriginalSuffix marks the shadow copy of a field in the flat row shape.
const OriginalSuffix = "_original"

// Row is the record of one document: where it lives, the field values a
// caller wants, and, after Verify or Update, the values currently stored.
type Row struct {
	Path     string
	ItemPath string
	Fields   map[string]string
	Original map[string]string
	// Error is set on rows for items that failed in partial-failure mode.
	Error string
}

func (r Row) clone() Row {
	out := r
	out.Fields = copyMap(r.Fields)
	out.Original = copyMap(r.Original)
	return out
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MarshalJSON writes the flat shape
// {"path", "itemPath", <field>..., <field>_original..., "error"}.
func (r Row) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, 3+len(r.Fields)+len(r.Original))
	for k, v := range r.Fields {
		m[k] = v
	}
	for k, v := range r.Original {
		m[k+OriginalSuffix] = v
	}
	m["path"] = r.Path
	m["itemPath"] = r.ItemPath
	if r.Error != "" {
		m["error"] = r.Error
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads the flat shape. Non-string values are kept in their
// JSON text form.
func (r *Row) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*r = Row{Fields: map[string]string{}}
	for k, raw := range m {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			if string(raw) == "null" {
				v = ""
			} else {
				v = string(raw)
			}
		}
		r.Set(k, v)
	}
	return nil
}

// Set assigns a flat column: path, itemPath, error, <field>_original or a
// field.
func (r *Row) Set(column, value string) {
	switch {
	case column == "path":
		r.Path = value
	case column == "itemPath":
		r.ItemPath = value
	case column == "error":
		r.Error = value
	case strings.HasSuffix(column, OriginalSuffix) && len(column) > len(OriginalSuffix):
		if r.Original == nil {
			r.Original = map[string]string{}
		}
		r.Original[strings.TrimSuffix(column, OriginalSuffix)] = value
	default:
		if r.Fields == nil {
			r.Fields = map[string]string{}
		}
		r.Fields[column] = value
	}
}

// Ref parses the row's item path.
func (r Row) Ref() (drive.ItemRef, error) {
	ref, err := drive.ParseItemPath(r.ItemPath)
	if err != nil {
		return drive.ItemRef{}, fmt.Errorf("row %q: %w", r.Path, err)
	}
	ref.Kind = drive.KindFile
	return ref, nil
}

// SortByPath orders rows by Path, then ItemPath.
func SortByPath(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Path != rows[j].Path {
			return rows[i].Path < rows[j].Path
		}
		return rows[i].ItemPath < rows[j].ItemPath
	})
}

// WorkItem is a pending traversal step: an item and the relative path of
// the folder it was listed in.
type WorkItem struct {
	ParentPath string
	Item       drive.Item
}
