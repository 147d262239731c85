package glyph

import (
	"encoding/json"
	"fmt"
	"os"
	"unicode/utf8"
)

// Catalog maps a geometry key to the canonical letter it draws.
type Catalog map[string]rune

// ParseCatalog decodes a JSON object of key → single-letter strings.
func ParseCatalog(data []byte) (Catalog, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode glyph catalog: %w", err)
	}
	cat := make(Catalog, len(raw))
	for key, letter := range raw {
		r, size := utf8.DecodeRuneInString(letter)
		if size != len(letter) || !IsLetter(r) {
			return nil, fmt.Errorf("glyph catalog key %q: %q is not a single latin letter", key, letter)
		}
		cat[key] = r
	}
	return cat, nil
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read glyph catalog: %w", err)
	}
	return ParseCatalog(data)
}

// CatalogFromFont builds a catalog from a reference font whose letters are
// drawn at their own code points. Letters whose geometry collides with an
// earlier letter are skipped and returned in dup.
func CatalogFromFont(provider GeometryProvider, font []byte) (cat Catalog, dup []rune, err error) {
	glyphs, err := provider.Glyphs(font)
	if err != nil {
		return nil, nil, fmt.Errorf("read reference font: %w", err)
	}
	cat = Catalog{}
	for _, g := range glyphs {
		if !IsLetter(g.Code) {
			continue
		}
		_, long := g.Keys()
		if _, taken := cat[long]; taken {
			dup = append(dup, g.Code)
			continue
		}
		cat[long] = g.Code
	}
	return cat, dup, nil
}

// MarshalJSON encodes the catalog in the format ParseCatalog reads.
func (c Catalog) MarshalJSON() ([]byte, error) {
	raw := make(map[string]string, len(c))
	for key, r := range c {
		raw[key] = string(r)
	}
	return json.Marshal(raw)
}
