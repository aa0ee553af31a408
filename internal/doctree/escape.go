package doctree

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark/util"
)

// unescape strips CommonMark backslash escapes from raw and resolves entity
// and numeric character references. offsets[i] is the raw offset the i-th
// literal byte came from; offsets has one extra entry, len(raw), so literal
// ranges map to raw ranges. Every byte of a decoded reference maps to its '&'.
func unescape(raw []byte) (string, []int) {
	var sb strings.Builder
	sb.Grow(len(raw))
	offsets := make([]int, 0, len(raw)+1)
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) && util.IsPunct(raw[i+1]) {
			offsets = append(offsets, i)
			sb.WriteByte(raw[i+1])
			i++
			continue
		}
		if raw[i] == '&' {
			if decoded, end, ok := resolveReference(raw, i); ok {
				for range decoded {
					offsets = append(offsets, i)
				}
				sb.Write(decoded)
				i = end - 1
				continue
			}
		}
		offsets = append(offsets, i)
		sb.WriteByte(raw[i])
	}
	offsets = append(offsets, len(raw))
	return sb.String(), offsets
}

// resolveReference decodes the character reference starting at raw[pos],
// which must be '&'. It returns the decoded bytes and the offset just past
// the terminating ';'.
func resolveReference(raw []byte, pos int) ([]byte, int, bool) {
	limit := len(raw)
	next := pos + 1
	if next < limit && raw[next] == '#' {
		start := next + 1
		base, pred, maxDigits := 10, util.IsNumeric, 7
		if start < limit && (raw[start] == 'x' || raw[start] == 'X') {
			start++
			base, pred, maxDigits = 16, util.IsHexDecimal, 6
		}
		end, ok := util.ReadWhile(raw, [2]int{start, limit}, pred)
		if !ok || end >= limit || raw[end] != ';' || end-start > maxDigits {
			return nil, 0, false
		}
		v, err := strconv.ParseUint(string(raw[start:end]), base, 32)
		if err != nil {
			return nil, 0, false
		}
		buf := make([]byte, utf8.UTFMax)
		n := utf8.EncodeRune(buf, util.ToValidRune(rune(v)))
		return buf[:n], end + 1, true
	}
	end, ok := util.ReadWhile(raw, [2]int{next, limit}, util.IsAlphaNumeric)
	if !ok || end >= limit || raw[end] != ';' {
		return nil, 0, false
	}
	entity, found := util.LookUpHTML5EntityByName(string(raw[next:end]))
	if !found {
		return nil, 0, false
	}
	return entity.Characters, end + 1, true
}

// inlineSpecial are the characters that can open inline syntax anywhere in a
// text run.
const inlineSpecial = "\\`*_[]<>&"

// escape renders literal as markdown that parses back to the same text run.
// Line breaks are folded into spaces. When the text sits at the start of a
// line, a leading block marker is escaped as well.
func escape(literal string, lineStart bool) []byte {
	literal = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(literal)

	out := make([]byte, 0, len(literal)+8)
	for i := 0; i < len(literal); i++ {
		c := literal[i]
		if strings.IndexByte(inlineSpecial, c) >= 0 {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	if lineStart {
		out = escapeBlockMarker(out)
	}
	return out
}

func escapeBlockMarker(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	switch b[0] {
	case '#', '>', '-', '+', '=', '|':
		return append([]byte{'\\'}, b...)
	}
	// Ordered list marker: digits followed by '.' or ')'.
	j := 0
	for j < len(b) && j < 9 && b[j] >= '0' && b[j] <= '9' {
		j++
	}
	if j > 0 && j < len(b) && (b[j] == '.' || b[j] == ')') {
		out := make([]byte, 0, len(b)+1)
		out = append(out, b[:j]...)
		out = append(out, '\\')
		return append(out, b[j:]...)
	}
	return b
}
