// Package glyph recovers text rendered through a substitution font. Each
// obfuscated letter is resolved to the letter its glyph actually draws by
// matching glyph geometry against a catalog of canonical letter shapes.
package glyph

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Alphabet is the 52-letter domain of every Map.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ErrNoMapping is logged when a font yields no usable pairs.
var ErrNoMapping = errors.New("no glyph mapping")

// Geometry is the bounding box and advance of the glyph a code renders,
// in font units.
type Geometry struct {
	Code         rune
	XMin, XMax   float64
	YMin, YMax   float64
	AdvanceWidth float64
}

// Keys returns the catalog keys for g: "{w}x{h}" and "{adv}x{w}x{h}".
// Rounding absorbs sub-unit drift from font compression.
func (g Geometry) Keys() (short, long string) {
	w := int(math.Round(g.XMax - g.XMin))
	h := int(math.Round(g.YMax - g.YMin))
	adv := int(math.Round(g.AdvanceWidth))
	return fmt.Sprintf("%dx%d", w, h), fmt.Sprintf("%dx%dx%d", adv, w, h)
}

// GeometryProvider extracts glyph geometry from font bytes.
type GeometryProvider interface {
	Glyphs(font []byte) ([]Geometry, error)
}

// IsLetter reports whether r is one of the 52 Latin letters.
func IsLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// Map translates obfuscated letters to real letters. It is never mutated
// after Build returns.
type Map map[rune]rune

// String renders m sorted by source letter, for logs and debugging.
func (m Map) String() string {
	keys := make([]rune, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(k)
		b.WriteString("->")
		b.WriteRune(m[k])
	}
	return b.String()
}

// Build resolves every glyph through the catalog, then applies gap
// completion.
func Build(glyphs []Geometry, catalog Catalog) Map {
	m := Map{}
	for _, g := range glyphs {
		if !IsLetter(g.Code) {
			continue
		}
		short, long := g.Keys()
		letter, ok := catalog[long]
		if !ok {
			letter, ok = catalog[short]
		}
		if ok && IsLetter(letter) {
			m[g.Code] = letter
		}
	}
	complete(m)
	return m
}

// complete assigns the last pair when exactly 51 sources and 51 distinct
// targets are known; a bijection over 52 symbols forces the remaining one.
func complete(m Map) bool {
	if len(m) != len(Alphabet)-1 {
		return false
	}
	targets := make(map[rune]bool, len(m))
	for _, v := range m {
		targets[v] = true
	}
	if len(targets) != len(Alphabet)-1 {
		return false
	}
	var src, dst rune
	for _, r := range Alphabet {
		if _, ok := m[r]; !ok {
			src = r
		}
		if !targets[r] {
			dst = r
		}
	}
	m[src] = dst
	return true
}

// Decode substitutes every letter of text through m. Letters missing from m
// are dropped; everything else passes through. When m is empty or nothing
// was substituted, text is returned unchanged with ok=false.
func Decode(text string, m Map) (string, bool) {
	if len(m) == 0 {
		return text, false
	}
	var b strings.Builder
	b.Grow(len(text))
	substituted := false
	for _, r := range text {
		if !IsLetter(r) {
			b.WriteRune(r)
			continue
		}
		if letter, ok := m[r]; ok {
			b.WriteRune(letter)
			substituted = true
		}
	}
	if !substituted {
		return text, false
	}
	return b.String(), true
}
