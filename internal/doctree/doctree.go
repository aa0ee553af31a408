package doctree

import (
	"fmt"
	"sort"
)

// Node kinds. Names follow mdast so selectors read the same as they do for
// unist tooling.
const (
	KindRoot          = "root"
	KindParagraph     = "paragraph"
	KindHeading       = "heading"
	KindThematicBreak = "thematicBreak"
	KindBlockquote    = "blockquote"
	KindList          = "list"
	KindListItem      = "listItem"
	KindCode          = "code"
	KindHTML          = "html"
	KindText          = "text"
	KindEmphasis      = "emphasis"
	KindStrong        = "strong"
	KindInlineCode    = "inlineCode"
	KindLink          = "link"
	KindImage         = "image"
	KindBreak         = "break"
)

// Node is one entry of a Tree. Nodes refer to each other by index.
type Node struct {
	Kind     string
	Parent   int // -1 for the root
	Children []int
	Attrs    map[string]string

	sibling int // position within the parent's Children

	// Text leaves only: the source span the leaf was parsed from and its
	// current raw (still escaped) markdown.
	text  bool
	start int
	stop  int
	raw   []byte
	dirty bool
}

// Tree is a parsed document. Nodes are stored in document (pre-)order, so
// ascending indices are document order. The source is never modified; edits
// live on the text leaves and are spliced in by Bytes.
type Tree struct {
	Source []byte
	Meta   map[string]any // decoded front matter, nil when absent

	nodes []Node
}

// New returns a tree holding only a root node for source.
func New(source []byte) *Tree {
	return &Tree{
		Source: source,
		nodes:  []Node{{Kind: KindRoot, Parent: -1}},
	}
}

// Root is the index of the root node.
const Root = 0

// Add appends a container node under parent. Callers must add nodes in
// document order: a parent before its children, a subtree before its next
// sibling.
func (t *Tree) Add(parent int, kind string, attrs map[string]string) int {
	idx := len(t.nodes)
	t.nodes = append(t.nodes, Node{
		Kind:    kind,
		Parent:  parent,
		Attrs:   attrs,
		sibling: len(t.nodes[parent].Children),
	})
	t.nodes[parent].Children = append(t.nodes[parent].Children, idx)
	return idx
}

// AddText appends a text leaf covering Source[start:stop].
func (t *Tree) AddText(parent, start, stop int) int {
	idx := t.Add(parent, KindText, nil)
	n := &t.nodes[idx]
	n.text = true
	n.start = start
	n.stop = stop
	n.raw = t.Source[start:stop:stop]
	return idx
}

// ExtendText grows the span of text leaf i to end at stop.
func (t *Tree) ExtendText(i, stop int) {
	n := &t.nodes[i]
	n.stop = stop
	n.raw = t.Source[n.start:stop:stop]
}

// Len is the number of nodes, root included.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns node i. The returned pointer must not be used to mutate the
// tree structure.
func (t *Tree) Node(i int) *Node { return &t.nodes[i] }

// Kind returns the kind of node i.
func (t *Tree) Kind(i int) string { return t.nodes[i].Kind }

// IsText reports whether node i is a text leaf.
func (t *Tree) IsText(i int) bool { return t.nodes[i].text }

// Span returns the source span of text leaf i.
func (t *Tree) Span(i int) (start, stop int) {
	return t.nodes[i].start, t.nodes[i].stop
}

// Raw returns the current markdown of text leaf i, escapes included.
func (t *Tree) Raw(i int) string {
	return string(t.nodes[i].raw)
}

// Value returns the literal text of node i: the unescaped contents of a text
// leaf, or "" for any other node.
func (t *Tree) Value(i int) string {
	if !t.nodes[i].text {
		return ""
	}
	v, _ := unescape(t.nodes[i].raw)
	return v
}

// Replace substitutes literal for the value range [start, end) of text leaf
// i. Offsets are in Value coordinates; the raw markdown outside the range is
// kept byte for byte.
func (t *Tree) Replace(i, start, end int, literal string) error {
	n := &t.nodes[i]
	if !n.text {
		return fmt.Errorf("node %d (%s) is not a text leaf", i, n.Kind)
	}
	value, offsets := unescape(n.raw)
	if start < 0 || end < start || end > len(value) {
		return fmt.Errorf("range [%d,%d) out of bounds for node %d (len %d)", start, end, i, len(value))
	}
	rawStart, rawEnd := offsets[start], offsets[end]
	lineStart := rawStart == 0 && t.atLineStart(n.start)

	out := make([]byte, 0, len(n.raw)+len(literal))
	out = append(out, n.raw[:rawStart]...)
	out = append(out, escape(literal, lineStart)...)
	out = append(out, n.raw[rawEnd:]...)
	n.raw = out
	n.dirty = true
	return nil
}

// atLineStart reports whether only indentation precedes pos on its line.
func (t *Tree) atLineStart(pos int) bool {
	for i := pos - 1; i >= 0; i-- {
		switch t.Source[i] {
		case ' ', '\t':
			continue
		case '\n', '\r':
			return true
		default:
			return false
		}
	}
	return true
}

// Modified reports whether any text leaf has been edited.
func (t *Tree) Modified() bool {
	for i := range t.nodes {
		if t.nodes[i].dirty {
			return true
		}
	}
	return false
}

// Bytes renders the tree: the source with every edited leaf's span replaced
// by its current raw markdown. An unedited tree renders to Source exactly.
func (t *Tree) Bytes() []byte {
	var edited []int
	for i := range t.nodes {
		if t.nodes[i].dirty {
			edited = append(edited, i)
		}
	}
	if len(edited) == 0 {
		out := make([]byte, len(t.Source))
		copy(out, t.Source)
		return out
	}
	sort.Slice(edited, func(a, b int) bool {
		return t.nodes[edited[a]].start < t.nodes[edited[b]].start
	})

	out := make([]byte, 0, len(t.Source)+64)
	cursor := 0
	for _, i := range edited {
		n := &t.nodes[i]
		out = append(out, t.Source[cursor:n.start]...)
		out = append(out, n.raw...)
		cursor = n.stop
	}
	return append(out, t.Source[cursor:]...)
}

// SelectAll returns the indices of all nodes matching sel, in document order.
func (t *Tree) SelectAll(sel *Selector) []int {
	var out []int
	for i := range t.nodes {
		if sel.Match(t, i) {
			out = append(out, i)
		}
	}
	return out
}

func (t *Tree) siblings(i int) []int {
	p := t.nodes[i].Parent
	if p < 0 {
		return []int{i}
	}
	return t.nodes[p].Children
}

func (t *Tree) prevSibling(i int) int {
	n := &t.nodes[i]
	if n.Parent < 0 || n.sibling == 0 {
		return -1
	}
	return t.nodes[n.Parent].Children[n.sibling-1]
}

func (t *Tree) attr(i int, name string) (string, bool) {
	if name == "value" && t.nodes[i].text {
		return t.Value(i), true
	}
	v, ok := t.nodes[i].Attrs[name]
	return v, ok
}
