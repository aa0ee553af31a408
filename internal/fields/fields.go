// Package fields extracts and rewrites metadata fields embedded as text
// lines in markdown documents.
package fields

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dgallion1/mdbulk/internal/doctree"
	"github.com/dgallion1/mdbulk/internal/parser"
)

// ErrPatternGroups is returned for a pattern without a prefix group followed
// by a value group.
var ErrPatternGroups = errors.New("pattern needs a prefix group followed by a value group")

// Descriptor locates one field: the selector picks candidate text nodes and
// the pattern picks the value out of a node's text.
type Descriptor struct {
	Field    string `yaml:"field" json:"field"`
	Selector string `yaml:"selector" json:"selector"`
	Pattern  string `yaml:"pattern" json:"pattern"`
}

type field struct {
	name   string
	sel    *doctree.Selector
	re     *regexp.Regexp
	prefix int // capture group indices
	value  int
}

// Engine applies an ordered list of descriptors to documents. It holds no
// per-document state and is safe for concurrent use.
type Engine struct {
	fields      []field
	frontMatter bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithFrontMatter makes the document helpers read a leading "---" block as
// YAML front matter instead of markdown.
func WithFrontMatter(on bool) Option {
	return func(e *Engine) { e.frontMatter = on }
}

// New compiles descriptors into an Engine.
func New(descs []Descriptor, opts ...Option) (*Engine, error) {
	if len(descs) == 0 {
		return nil, errors.New("no field descriptors")
	}
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		if d.Field == "" {
			return nil, errors.New("field descriptor without a field name")
		}
		if seen[d.Field] {
			return nil, fmt.Errorf("duplicate field %q", d.Field)
		}
		seen[d.Field] = true

		sel, err := doctree.Compile(d.Selector)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", d.Field, err)
		}
		re, err := regexp.Compile(d.Pattern)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", d.Field, err)
		}
		prefix, value, err := groups(re)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", d.Field, err)
		}
		e.fields = append(e.fields, field{name: d.Field, sel: sel, re: re, prefix: prefix, value: value})
	}
	return e, nil
}

// groups finds the prefix and value groups: the named groups "prefix" and
// "value" when present, otherwise groups 1 and 2.
func groups(re *regexp.Regexp) (int, int, error) {
	prefix, value := re.SubexpIndex("prefix"), re.SubexpIndex("value")
	if prefix < 0 && value < 0 {
		prefix, value = 1, 2
	}
	if prefix < 1 || value <= prefix || value > re.NumSubexp() {
		return 0, 0, ErrPatternGroups
	}
	return prefix, value, nil
}

// Fields returns the field names in descriptor order.
func (e *Engine) Fields() []string {
	out := make([]string, len(e.fields))
	for i, f := range e.fields {
		out[i] = f.name
	}
	return out
}

// Extract reads every field from tree. A field whose pattern matches several
// nodes yields their values joined with ", "; a field that matches nothing
// yields "".
func (e *Engine) Extract(tree *doctree.Tree) map[string]string {
	record := make(map[string]string, len(e.fields))
	for _, f := range e.fields {
		var values []string
		for _, i := range tree.SelectAll(f.sel) {
			value := tree.Value(i)
			if start, end, ok := f.locate(value); ok {
				values = append(values, value[start:end])
			}
		}
		record[f.name] = strings.Join(values, ", ")
	}
	return record
}

// Update writes record into tree. For every selected node whose text matches
// a field's pattern, the value group is replaced by record[field] ("" when
// absent) and the rest of the node is kept. Nodes that do not match are left
// alone and missing fields are not inserted. A value that already reads as
// record[field] keeps its source bytes. Selection runs again for each field,
// so a later field sees the edits of an earlier one.
func (e *Engine) Update(tree *doctree.Tree, record map[string]string) error {
	for _, f := range e.fields {
		for _, i := range tree.SelectAll(f.sel) {
			value := tree.Value(i)
			start, end, ok := f.locate(value)
			if !ok || value[start:end] == record[f.name] {
				continue
			}
			if err := tree.Replace(i, start, end, record[f.name]); err != nil {
				return fmt.Errorf("field %q: %w", f.name, err)
			}
		}
	}
	return nil
}

// locate returns the value-group range of the first match of the pattern in
// value. A value group that did not participate in the match is an empty
// range right after the prefix.
func (f *field) locate(value string) (int, int, bool) {
	m := f.re.FindStringSubmatchIndex(value)
	if m == nil {
		return 0, 0, false
	}
	start, end := m[2*f.value], m[2*f.value+1]
	if start < 0 {
		at := m[1]
		if m[2*f.prefix+1] >= 0 {
			at = m[2*f.prefix+1]
		}
		return at, at, true
	}
	return start, end, true
}

// Parse builds the tree the document helpers work on.
func (e *Engine) Parse(src []byte) *doctree.Tree {
	if e.frontMatter {
		return parser.ParseFrontMatter(src)
	}
	return parser.Parse(src)
}

// ExtractDocument parses src and extracts its fields.
func (e *Engine) ExtractDocument(src []byte) map[string]string {
	return e.Extract(e.Parse(src))
}

// UpdateDocument parses src, writes record into it and returns the new
// document. Content outside the rewritten values is returned byte for byte.
func (e *Engine) UpdateDocument(src []byte, record map[string]string) ([]byte, error) {
	tree := e.Parse(src)
	if err := e.Update(tree, record); err != nil {
		return nil, err
	}
	return tree.Bytes(), nil
}
