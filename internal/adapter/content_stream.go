package adapter

import (
	"bytes"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

// minImagePlacement is the smallest placed XObject, in points, treated as a
// picture. Form XObjects drawn with an identity matrix fall below it.
const minImagePlacement = 16

type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m x n in PDF row-vector convention.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokName
	tokString
	tokArray
	tokOperator
	tokOther
)

type token struct {
	kind  tokenKind
	num   float64
	str   string
	items []token
}

type textRun struct {
	x, y, size float64
	text       string
}

// contentLayout walks a decoded page content stream and collects placed
// images and text runs, converted to top-left page coordinates.
type contentLayout struct {
	pageHeight float64

	ctm      matrix
	stack    []matrix
	tm, tlm  matrix
	fontSize float64
	leading  float64

	images []Structure
	runs   []textRun
}

func parseContentStream(data []byte, pageHeight float64) ([]Structure, []textRun) {
	l := &contentLayout{pageHeight: pageHeight, ctm: identity, tm: identity, tlm: identity, fontSize: 12}
	s := &scanner{data: data}

	var operands []token
	for {
		tok, ok := s.next()
		if !ok {
			break
		}
		if tok.kind != tokOperator {
			operands = append(operands, tok)
			continue
		}
		if tok.str == "ID" {
			s.skipInlineImage()
		} else {
			l.apply(tok.str, operands)
		}
		operands = operands[:0]
	}
	return l.images, l.runs
}

func numbers(ops []token, n int) ([]float64, bool) {
	if len(ops) < n {
		return nil, false
	}
	out := make([]float64, n)
	for i, t := range ops[len(ops)-n:] {
		if t.kind != tokNumber {
			return nil, false
		}
		out[i] = t.num
	}
	return out, true
}

func (l *contentLayout) apply(op string, ops []token) {
	switch op {
	case "q":
		l.stack = append(l.stack, l.ctm)
	case "Q":
		if n := len(l.stack); n > 0 {
			l.ctm = l.stack[n-1]
			l.stack = l.stack[:n-1]
		}
	case "cm":
		if v, ok := numbers(ops, 6); ok {
			l.ctm = matrix{v[0], v[1], v[2], v[3], v[4], v[5]}.mul(l.ctm)
		}
	case "Do":
		if len(ops) > 0 && ops[len(ops)-1].kind == tokName {
			l.placeImage(ops[len(ops)-1].str)
		}
	case "BT":
		l.tm, l.tlm = identity, identity
	case "Tf":
		if v, ok := numbers(ops, 1); ok && v[0] != 0 {
			l.fontSize = math.Abs(v[0])
		}
	case "TL":
		if v, ok := numbers(ops, 1); ok {
			l.leading = v[0]
		}
	case "Td":
		if v, ok := numbers(ops, 2); ok {
			l.moveText(v[0], v[1])
		}
	case "TD":
		if v, ok := numbers(ops, 2); ok {
			l.leading = -v[1]
			l.moveText(v[0], v[1])
		}
	case "Tm":
		if v, ok := numbers(ops, 6); ok {
			l.tm = matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
			l.tlm = l.tm
		}
	case "T*":
		l.moveText(0, -l.leading)
	case "Tj":
		if len(ops) > 0 && ops[len(ops)-1].kind == tokString {
			l.showText(ops[len(ops)-1].str)
		}
	case "'", "\"":
		l.moveText(0, -l.leading)
		if len(ops) > 0 && ops[len(ops)-1].kind == tokString {
			l.showText(ops[len(ops)-1].str)
		}
	case "TJ":
		if len(ops) > 0 && ops[len(ops)-1].kind == tokArray {
			var sb strings.Builder
			for _, item := range ops[len(ops)-1].items {
				switch item.kind {
				case tokString:
					sb.WriteString(item.str)
				case tokNumber:
					// Large negative kerning separates words
					if item.num < -200 {
						sb.WriteByte(' ')
					}
				}
			}
			l.showText(sb.String())
		}
	}
}

func (l *contentLayout) moveText(tx, ty float64) {
	l.tlm = matrix{1, 0, 0, 1, tx, ty}.mul(l.tlm)
	l.tm = l.tlm
}

func (l *contentLayout) showText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	m := l.tm.mul(l.ctm)
	scale := math.Hypot(m[2], m[3])
	if scale == 0 {
		scale = 1
	}
	size := l.fontSize * scale
	l.runs = append(l.runs, textRun{
		x:    m[4],
		y:    l.pageHeight - m[5] - size,
		size: size,
		text: text,
	})
}

func (l *contentLayout) placeImage(name string) {
	// The image occupies the unit square mapped through the CTM
	corners := [4][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		x := c[0]*l.ctm[0] + c[1]*l.ctm[2] + l.ctm[4]
		y := c[0]*l.ctm[1] + c[1]*l.ctm[3] + l.ctm[5]
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	w, h := maxX-minX, maxY-minY
	if w < minImagePlacement || h < minImagePlacement {
		return
	}
	l.images = append(l.images, Structure{
		Kind: StructureImage,
		Name: name,
		Rect: models.Rect{X: minX, Y: l.pageHeight - maxY, Width: w, Height: h},
	})
}

// textBlocks groups runs into blocks of vertically adjacent lines.
func textBlocks(runs []textRun) []Structure {
	if len(runs) == 0 {
		return nil
	}
	sorted := make([]textRun, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if math.Abs(sorted[i].y-sorted[j].y) > sorted[i].size/2 {
			return sorted[i].y < sorted[j].y
		}
		return sorted[i].x < sorted[j].x
	})

	var blocks []Structure
	var lines []string
	var line []string
	var rect models.Rect
	lastY, lastSize := math.Inf(-1), 0.0

	flushLine := func() {
		if len(line) > 0 {
			lines = append(lines, strings.Join(line, " "))
			line = nil
		}
	}
	flushBlock := func() {
		flushLine()
		if len(lines) > 0 {
			blocks = append(blocks, Structure{Kind: StructureText, Rect: rect, Text: strings.Join(lines, "\n")})
			lines = nil
		}
	}

	for i, r := range sorted {
		width := float64(len([]rune(r.text))) * r.size * 0.5
		runRect := models.Rect{X: r.x, Y: r.y, Width: width, Height: r.size}
		switch {
		case i == 0:
			rect = runRect
		case math.Abs(r.y-lastY) <= lastSize/2:
			rect = unionRect(rect, runRect)
		case r.y-lastY <= 2*math.Max(lastSize, r.size):
			flushLine()
			rect = unionRect(rect, runRect)
		default:
			flushBlock()
			rect = runRect
		}
		line = append(line, r.text)
		lastY, lastSize = r.y, r.size
	}
	flushBlock()
	return blocks
}

func unionRect(a, b models.Rect) models.Rect {
	x0, y0 := math.Min(a.X, b.X), math.Min(a.Y, b.Y)
	x1 := math.Max(a.X+a.Width, b.X+b.Width)
	y1 := math.Max(a.Y+a.Height, b.Y+b.Height)
	return models.Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// scanner tokenizes PDF content-stream syntax.
type scanner struct {
	data []byte
	pos  int
}

func isWhite(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if c == '%' {
			for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
			continue
		}
		if !isWhite(c) {
			return
		}
		s.pos++
	}
}

func (s *scanner) next() (token, bool) {
	s.skipSpace()
	if s.pos >= len(s.data) {
		return token{}, false
	}
	c := s.data[s.pos]
	switch {
	case c == '(':
		return token{kind: tokString, str: s.literalString()}, true
	case c == '<' && s.pos+1 < len(s.data) && s.data[s.pos+1] == '<':
		s.skipDict()
		return token{kind: tokOther}, true
	case c == '<':
		return token{kind: tokString, str: s.hexString()}, true
	case c == '[':
		s.pos++
		var items []token
		for {
			s.skipSpace()
			if s.pos >= len(s.data) {
				break
			}
			if s.data[s.pos] == ']' {
				s.pos++
				break
			}
			item, ok := s.next()
			if !ok {
				break
			}
			items = append(items, item)
		}
		return token{kind: tokArray, items: items}, true
	case c == '/':
		s.pos++
		return token{kind: tokName, str: s.word()}, true
	case c == ']' || c == '>' || c == ')' || c == '{' || c == '}':
		s.pos++
		return token{kind: tokOther}, true
	}

	w := s.word()
	if w == "" {
		s.pos++
		return token{kind: tokOther}, true
	}
	if f, err := strconv.ParseFloat(w, 64); err == nil {
		return token{kind: tokNumber, num: f}, true
	}
	switch w {
	case "true", "false", "null":
		return token{kind: tokOther, str: w}, true
	}
	return token{kind: tokOperator, str: w}, true
}

func (s *scanner) word() string {
	start := s.pos
	for s.pos < len(s.data) && !isWhite(s.data[s.pos]) && !isDelim(s.data[s.pos]) {
		s.pos++
	}
	return string(s.data[start:s.pos])
}

func (s *scanner) literalString() string {
	s.pos++ // (
	var buf []byte
	depth := 1
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '(':
			depth++
			buf = append(buf, c)
		case ')':
			depth--
			if depth == 0 {
				return decodePDFText(buf)
			}
			buf = append(buf, c)
		case '\\':
			if s.pos >= len(s.data) {
				break
			}
			e := s.data[s.pos]
			s.pos++
			switch e {
			case 'n':
				buf = append(buf, '\n')
			case 'r':
				buf = append(buf, '\r')
			case 't':
				buf = append(buf, '\t')
			case 'b':
				buf = append(buf, '\b')
			case 'f':
				buf = append(buf, '\f')
			case '\r', '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for k := 0; k < 2 && s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '7'; k++ {
						v = v*8 + int(s.data[s.pos]-'0')
						s.pos++
					}
					buf = append(buf, byte(v))
				} else {
					buf = append(buf, e)
				}
			}
		default:
			buf = append(buf, c)
		}
	}
	return decodePDFText(buf)
}

func (s *scanner) hexString() string {
	s.pos++ // <
	var digits []byte
	for s.pos < len(s.data) && s.data[s.pos] != '>' {
		if c := s.data[s.pos]; !isWhite(c) {
			digits = append(digits, c)
		}
		s.pos++
	}
	s.pos++ // >
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	buf := make([]byte, 0, len(digits)/2)
	for i := 0; i+1 < len(digits); i += 2 {
		v, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			continue
		}
		buf = append(buf, byte(v))
	}
	return decodePDFText(buf)
}

func (s *scanner) skipDict() {
	depth := 0
	for s.pos+1 < len(s.data) {
		switch {
		case s.data[s.pos] == '<' && s.data[s.pos+1] == '<':
			depth++
			s.pos += 2
		case s.data[s.pos] == '>' && s.data[s.pos+1] == '>':
			depth--
			s.pos += 2
			if depth == 0 {
				return
			}
		default:
			s.pos++
		}
	}
	s.pos = len(s.data)
}

// skipInlineImage moves past the binary data that follows an ID operator.
func (s *scanner) skipInlineImage() {
	s.pos++
	idx := bytes.Index(s.data[s.pos:], []byte("EI"))
	for idx >= 0 {
		end := s.pos + idx
		before := end == 0 || isWhite(s.data[end-1])
		after := end+2 >= len(s.data) || isWhite(s.data[end+2])
		if before && after {
			s.pos = end + 2
			return
		}
		next := bytes.Index(s.data[end+2:], []byte("EI"))
		if next < 0 {
			break
		}
		idx = end + 2 + next - s.pos
	}
	s.pos = len(s.data)
}

// decodePDFText handles UTF-16BE strings with a byte order mark and treats
// everything else as single-byte text.
func decodePDFText(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		u := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(u))
	}
	r := make([]rune, 0, len(b))
	for _, c := range b {
		r = append(r, rune(c))
	}
	return string(r)
}
