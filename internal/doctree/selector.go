package doctree

import (
	"fmt"
	"strconv"
	"strings"
)

// Selector is a compiled structural query over a Tree, written in the CSS
// dialect used by unist-util-select, e.g.
//
//	thematicBreak:last-of-type ~ paragraph > text
//	heading[depth=2] + paragraph text
type Selector struct {
	src  string
	alts []complexSel
}

// complexSel is a chain of compounds; combs[i] joins parts[i] and parts[i+1].
type complexSel struct {
	parts []compound
	combs []byte
}

type compound struct {
	kind    string // "" matches any kind
	attrs   []attrTest
	pseudos []pseudo
}

type attrTest struct {
	name     string
	value    string
	hasValue bool
}

type pseudo struct {
	name string
	n    int
}

var pseudoArgs = map[string]bool{
	"first-child":      false,
	"last-child":       false,
	"only-child":       false,
	"first-of-type":    false,
	"last-of-type":     false,
	"only-of-type":     false,
	"empty":            false,
	"root":             false,
	"nth-child":        true,
	"nth-last-child":   true,
	"nth-of-type":      true,
	"nth-last-of-type": true,
}

// Compile parses a selector.
func Compile(src string) (*Selector, error) {
	p := &selParser{src: src}
	sel := &Selector{src: src}
	for {
		p.skipSpace()
		c, err := p.complex()
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", src, err)
		}
		sel.alts = append(sel.alts, c)
		p.skipSpace()
		if p.eof() {
			return sel, nil
		}
		if p.peek() != ',' {
			return nil, fmt.Errorf("selector %q: unexpected %q at offset %d", src, p.peek(), p.pos)
		}
		p.pos++
	}
}

// MustCompile is Compile for selectors known at build time.
func MustCompile(src string) *Selector {
	sel, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return sel
}

func (s *Selector) String() string { return s.src }

// Match reports whether node i of t satisfies the selector.
func (s *Selector) Match(t *Tree, i int) bool {
	for _, c := range s.alts {
		if c.matchAt(t, i, len(c.parts)-1) {
			return true
		}
	}
	return false
}

// matchAt matches right to left: node i against parts[k], then walks the
// combinator to find a node for parts[k-1].
func (c complexSel) matchAt(t *Tree, i, k int) bool {
	if !c.parts[k].match(t, i) {
		return false
	}
	if k == 0 {
		return true
	}
	switch c.combs[k-1] {
	case '>':
		p := t.nodes[i].Parent
		return p >= 0 && c.matchAt(t, p, k-1)
	case ' ':
		for p := t.nodes[i].Parent; p >= 0; p = t.nodes[p].Parent {
			if c.matchAt(t, p, k-1) {
				return true
			}
		}
	case '+':
		s := t.prevSibling(i)
		return s >= 0 && c.matchAt(t, s, k-1)
	case '~':
		for s := t.prevSibling(i); s >= 0; s = t.prevSibling(s) {
			if c.matchAt(t, s, k-1) {
				return true
			}
		}
	}
	return false
}

func (c compound) match(t *Tree, i int) bool {
	if c.kind != "" && t.nodes[i].Kind != c.kind {
		return false
	}
	for _, a := range c.attrs {
		v, ok := t.attr(i, a.name)
		if !ok || (a.hasValue && v != a.value) {
			return false
		}
	}
	for _, ps := range c.pseudos {
		if !ps.match(t, i) {
			return false
		}
	}
	return true
}

func (ps pseudo) match(t *Tree, i int) bool {
	n := &t.nodes[i]
	if ps.name == "root" {
		return n.Parent < 0
	}
	if ps.name == "empty" {
		return len(n.Children) == 0 && t.Value(i) == ""
	}
	if n.Parent < 0 {
		return false
	}
	sibs := t.siblings(i)
	pos := n.sibling
	switch ps.name {
	case "first-child":
		return pos == 0
	case "last-child":
		return pos == len(sibs)-1
	case "only-child":
		return len(sibs) == 1
	case "nth-child":
		return pos+1 == ps.n
	case "nth-last-child":
		return len(sibs)-pos == ps.n
	}

	before, after := 0, 0
	for j, s := range sibs {
		if t.nodes[s].Kind != n.Kind || j == pos {
			continue
		}
		if j < pos {
			before++
		} else {
			after++
		}
	}
	switch ps.name {
	case "first-of-type":
		return before == 0
	case "last-of-type":
		return after == 0
	case "only-of-type":
		return before == 0 && after == 0
	case "nth-of-type":
		return before+1 == ps.n
	case "nth-last-of-type":
		return after+1 == ps.n
	}
	return false
}

type selParser struct {
	src string
	pos int
}

func (p *selParser) eof() bool  { return p.pos >= len(p.src) }
func (p *selParser) peek() byte { return p.src[p.pos] }

func (p *selParser) skipSpace() bool {
	start := p.pos
	for !p.eof() && isSpace(p.peek()) {
		p.pos++
	}
	return p.pos > start
}

func (p *selParser) complex() (complexSel, error) {
	var c complexSel
	first, err := p.compound()
	if err != nil {
		return c, err
	}
	c.parts = append(c.parts, first)
	for {
		spaced := p.skipSpace()
		if p.eof() || p.peek() == ',' {
			return c, nil
		}
		comb := byte(' ')
		switch p.peek() {
		case '>', '+', '~':
			comb = p.peek()
			p.pos++
			p.skipSpace()
		default:
			if !spaced {
				return c, fmt.Errorf("unexpected %q at offset %d", p.peek(), p.pos)
			}
		}
		next, err := p.compound()
		if err != nil {
			return c, err
		}
		c.combs = append(c.combs, comb)
		c.parts = append(c.parts, next)
	}
}

func (p *selParser) compound() (compound, error) {
	var c compound
	start := p.pos
	if !p.eof() && p.peek() == '*' {
		p.pos++
	} else {
		c.kind = p.ident()
	}
	for !p.eof() {
		switch p.peek() {
		case '[':
			a, err := p.attr()
			if err != nil {
				return c, err
			}
			c.attrs = append(c.attrs, a)
		case ':':
			ps, err := p.pseudo()
			if err != nil {
				return c, err
			}
			c.pseudos = append(c.pseudos, ps)
		default:
			if p.pos == start {
				return c, fmt.Errorf("expected selector at offset %d", p.pos)
			}
			return c, nil
		}
	}
	if p.pos == start {
		return c, fmt.Errorf("expected selector at offset %d", p.pos)
	}
	return c, nil
}

func (p *selParser) ident() string {
	start := p.pos
	for !p.eof() && isIdent(p.peek()) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *selParser) attr() (attrTest, error) {
	var a attrTest
	p.pos++ // [
	p.skipSpace()
	a.name = p.ident()
	if a.name == "" {
		return a, fmt.Errorf("expected attribute name at offset %d", p.pos)
	}
	p.skipSpace()
	if !p.eof() && p.peek() == '=' {
		p.pos++
		p.skipSpace()
		v, err := p.attrValue()
		if err != nil {
			return a, err
		}
		a.value = v
		a.hasValue = true
		p.skipSpace()
	}
	if p.eof() || p.peek() != ']' {
		return a, fmt.Errorf("unterminated attribute at offset %d", p.pos)
	}
	p.pos++
	return a, nil
}

func (p *selParser) attrValue() (string, error) {
	if p.eof() {
		return "", fmt.Errorf("expected attribute value at offset %d", p.pos)
	}
	if q := p.peek(); q == '"' || q == '\'' {
		end := strings.IndexByte(p.src[p.pos+1:], q)
		if end < 0 {
			return "", fmt.Errorf("unterminated string at offset %d", p.pos)
		}
		v := p.src[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
		return v, nil
	}
	v := p.ident()
	if v == "" {
		return "", fmt.Errorf("expected attribute value at offset %d", p.pos)
	}
	return v, nil
}

func (p *selParser) pseudo() (pseudo, error) {
	var ps pseudo
	p.pos++ // :
	ps.name = p.ident()
	takesArg, known := pseudoArgs[ps.name]
	if !known {
		return ps, fmt.Errorf("unsupported pseudo-class :%s", ps.name)
	}
	if !takesArg {
		return ps, nil
	}
	if p.eof() || p.peek() != '(' {
		return ps, fmt.Errorf(":%s needs an argument", ps.name)
	}
	end := strings.IndexByte(p.src[p.pos:], ')')
	if end < 0 {
		return ps, fmt.Errorf("unterminated :%s argument", ps.name)
	}
	arg := strings.TrimSpace(p.src[p.pos+1 : p.pos+end])
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return ps, fmt.Errorf(":%s argument must be a positive integer, got %q", ps.name, arg)
	}
	ps.n = n
	p.pos += end + 1
	return ps, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdent(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}
