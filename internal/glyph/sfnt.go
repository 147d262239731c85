package glyph

import (
	"errors"
	"fmt"

	"golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

// SFNTProvider reads TrueType/OpenType fonts (and WOFF 1.0 wrappers) with
// golang.org/x/image/font/sfnt.
type SFNTProvider struct{}

// Glyphs returns geometry for every Latin letter the font's cmap maps to a
// drawable glyph.
func (SFNTProvider) Glyphs(data []byte) ([]Geometry, error) {
	raw, err := Unwrap(data)
	if err != nil {
		return nil, err
	}
	f, err := sfnt.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	// With ppem equal to unitsPerEm, 26.6 coordinates are font units * 64.
	ppem := fixed.Int26_6(f.UnitsPerEm()) << 6
	var buf sfnt.Buffer
	out := make([]Geometry, 0, len(Alphabet))
	for _, code := range Alphabet {
		idx, err := f.GlyphIndex(&buf, code)
		if err != nil {
			return nil, fmt.Errorf("cmap lookup %q: %w", code, err)
		}
		if idx == 0 {
			continue
		}
		segs, err := f.LoadGlyph(&buf, idx, ppem, nil)
		if err != nil {
			if errors.Is(err, sfnt.ErrColoredGlyph) {
				continue
			}
			return nil, fmt.Errorf("load glyph %q: %w", code, err)
		}
		adv, err := f.GlyphAdvance(&buf, idx, ppem, font.HintingNone)
		if err != nil {
			return nil, fmt.Errorf("glyph advance %q: %w", code, err)
		}
		b := segs.Bounds()
		out = append(out, Geometry{
			Code:         code,
			XMin:         units(b.Min.X),
			XMax:         units(b.Max.X),
			YMin:         units(b.Min.Y),
			YMax:         units(b.Max.Y),
			AdvanceWidth: units(adv),
		})
	}
	return out, nil
}

func units(v fixed.Int26_6) float64 {
	return float64(v) / 64
}
