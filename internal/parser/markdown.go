// Package parser turns markdown documents into editable doctree.Trees.
package parser

import (
	"bytes"
	"strconv"

	"github.com/adrg/frontmatter"
	"github.com/dgallion1/mdbulk/internal/doctree"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

var md = goldmark.New()

var yamlFrontMatter = frontmatter.NewFormat("---", "---", yaml.Unmarshal)

// Parse builds a tree for src. It never fails: input that is not valid
// markdown in some respect is read the way CommonMark reads it. A leading
// "---" line is an ordinary thematic break.
func Parse(src []byte) *doctree.Tree {
	return parse(src, false)
}

// ParseFrontMatter is Parse for documents that may open with a YAML front
// matter block. The block is decoded into Tree.Meta and left out of the
// markdown body; front matter that does not decode is treated as markdown.
func ParseFrontMatter(src []byte) *doctree.Tree {
	return parse(src, true)
}

func parse(src []byte, frontMatter bool) *doctree.Tree {
	tree := doctree.New(src)
	offset := 0
	if frontMatter {
		tree.Meta, offset = splitFrontMatter(src)
	}

	body := src[offset:]
	doc := md.Parser().Parse(text.NewReader(body))
	b := &builder{tree: tree, src: body, offset: offset}
	b.children(doc, doctree.Root)
	return tree
}

// splitFrontMatter returns the decoded YAML front matter of src and the
// offset at which the markdown body starts. The block must open on the
// first line.
func splitFrontMatter(src []byte) (map[string]any, int) {
	if !bytes.HasPrefix(src, []byte("---")) {
		return nil, 0
	}
	var meta map[string]any
	body, err := frontmatter.MustParse(bytes.NewReader(src), &meta, yamlFrontMatter)
	if err != nil || !bytes.HasSuffix(src, body) {
		return nil, 0
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return meta, len(src) - len(body)
}

type builder struct {
	tree   *doctree.Tree
	src    []byte
	offset int
}

// children adds the children of n under parent. Adjacent text segments on
// the same line are merged into one leaf so a line of prose reads as a
// single run, whatever delimiters goldmark split it on.
func (b *builder) children(n ast.Node, parent int) {
	run, runStop := -1, -1
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		t, ok := c.(*ast.Text)
		if !ok {
			run = -1
			b.node(c, parent)
			continue
		}
		seg := t.Segment
		start, stop := seg.Start+b.offset, seg.Stop+b.offset
		switch {
		case run >= 0 && start == runStop:
			b.tree.ExtendText(run, stop)
		case seg.Len() > 0:
			run = b.tree.AddText(parent, start, stop)
		}
		runStop = stop
		if t.HardLineBreak() {
			b.tree.Add(parent, doctree.KindBreak, nil)
		}
		if t.SoftLineBreak() || t.HardLineBreak() {
			run = -1
		}
	}
}

func (b *builder) node(n ast.Node, parent int) {
	switch v := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		b.children(n, b.tree.Add(parent, doctree.KindParagraph, nil))
	case *ast.Heading:
		attrs := map[string]string{"depth": strconv.Itoa(v.Level)}
		b.children(n, b.tree.Add(parent, doctree.KindHeading, attrs))
	case *ast.ThematicBreak:
		b.tree.Add(parent, doctree.KindThematicBreak, nil)
	case *ast.Blockquote:
		b.children(n, b.tree.Add(parent, doctree.KindBlockquote, nil))
	case *ast.List:
		attrs := map[string]string{"ordered": strconv.FormatBool(v.IsOrdered())}
		if v.IsOrdered() {
			attrs["start"] = strconv.Itoa(v.Start)
		}
		b.children(n, b.tree.Add(parent, doctree.KindList, attrs))
	case *ast.ListItem:
		b.children(n, b.tree.Add(parent, doctree.KindListItem, nil))
	case *ast.FencedCodeBlock:
		var attrs map[string]string
		if lang := v.Language(b.src); len(lang) > 0 {
			attrs = map[string]string{"lang": string(lang)}
		}
		b.tree.Add(parent, doctree.KindCode, attrs)
	case *ast.CodeBlock:
		b.tree.Add(parent, doctree.KindCode, nil)
	case *ast.HTMLBlock, *ast.RawHTML:
		b.tree.Add(parent, doctree.KindHTML, nil)
	case *ast.Emphasis:
		kind := doctree.KindEmphasis
		if v.Level >= 2 {
			kind = doctree.KindStrong
		}
		b.children(n, b.tree.Add(parent, kind, nil))
	case *ast.CodeSpan:
		b.tree.Add(parent, doctree.KindInlineCode, nil)
	case *ast.Link:
		attrs := map[string]string{"url": string(v.Destination)}
		if len(v.Title) > 0 {
			attrs["title"] = string(v.Title)
		}
		b.children(n, b.tree.Add(parent, doctree.KindLink, attrs))
	case *ast.AutoLink:
		b.tree.Add(parent, doctree.KindLink, map[string]string{"url": string(v.URL(b.src))})
	case *ast.Image:
		b.tree.Add(parent, doctree.KindImage, map[string]string{"url": string(v.Destination)})
	default:
		// Nodes without an mdast counterpart are transparent.
		b.children(n, parent)
	}
}
