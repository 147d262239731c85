package glyph

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-crawler/internal/hash/sha256"
)

// canonical gives every real letter a distinct shape.
func canonical(letter rune) (adv, w, h float64) {
	i := float64(strings.IndexRune(Alphabet, letter))
	return 500 + i, 300 + i, 700 - i
}

func catalogFor(skip ...rune) Catalog {
	cat := Catalog{}
	for _, r := range Alphabet {
		if strings.ContainsRune(string(skip), r) {
			continue
		}
		adv, w, h := canonical(r)
		g := Geometry{XMax: w, YMax: h, AdvanceWidth: adv}
		_, long := g.Keys()
		cat[long] = r
	}
	return cat
}

// scrambled returns a font where each code draws perm[code].
func scrambled(perm map[rune]rune) []Geometry {
	out := make([]Geometry, 0, len(Alphabet))
	for _, code := range Alphabet {
		drawn := code
		if p, ok := perm[code]; ok {
			drawn = p
		}
		adv, w, h := canonical(drawn)
		out = append(out, Geometry{Code: code, XMin: 10.3, XMax: 10.3 + w, YMin: -0.4, YMax: h - 0.4, AdvanceWidth: adv + 0.2})
	}
	return out
}

// novaPerm swaps s<->N, C<->o and A<->a so "sCvA" draws "Nova".
var novaPerm = map[rune]rune{'s': 'N', 'N': 's', 'C': 'o', 'o': 'C', 'A': 'a', 'a': 'A'}

type memProvider struct {
	glyphs []Geometry
	err    error
	calls  int
}

func (p *memProvider) Glyphs([]byte) ([]Geometry, error) {
	p.calls++
	return p.glyphs, p.err
}

func TestGeometryKeysRound(t *testing.T) {
	t.Parallel()
	g := Geometry{XMin: 0.4, XMax: 300.6, YMin: -10.2, YMax: 689.9, AdvanceWidth: 499.5}
	short, long := g.Keys()
	assert.Equal(t, "300x700", short)
	assert.Equal(t, "500x300x700", long)
}

func TestBuildCompleteBijection(t *testing.T) {
	t.Parallel()
	m := Build(scrambled(novaPerm), catalogFor())
	require.Len(t, m, 52)
	assert.Equal(t, 'N', m['s'])
	assert.Equal(t, 'e', m['e'])
}

func TestDecodeRegressionFixture(t *testing.T) {
	t.Parallel()
	m := Build(scrambled(novaPerm), catalogFor())
	text, ok := Decode("sCvA", m)
	assert.True(t, ok)
	assert.Equal(t, "Nova", text)
}

func TestBuildShortKeyFallback(t *testing.T) {
	t.Parallel()
	cat := Catalog{}
	for _, r := range Alphabet {
		adv, w, h := canonical(r)
		short, _ := Geometry{XMax: w, YMax: h, AdvanceWidth: adv}.Keys()
		cat[short] = r
	}
	m := Build(scrambled(novaPerm), cat)
	assert.Equal(t, 'o', m['C'])
}

func TestGapCompletionForcesLastPair(t *testing.T) {
	t.Parallel()
	m := Build(scrambled(novaPerm), catalogFor('N'))
	require.Len(t, m, 52)
	assert.Equal(t, 'N', m['s'], "52nd pair deduced by elimination")

	seen := map[rune]bool{}
	for _, v := range m {
		seen[v] = true
	}
	assert.Len(t, seen, 52, "map is a total bijection")
}

func TestNoCompletionWithTwoGaps(t *testing.T) {
	t.Parallel()
	m := Build(scrambled(novaPerm), catalogFor('N', 'x'))
	assert.Len(t, m, 50)
	_, ok := m['s']
	assert.False(t, ok)
}

func TestDecodeDropsUnmappedLetters(t *testing.T) {
	t.Parallel()
	m := Map{'a': 'b', 'B': 'c'}
	text, ok := Decode("aB, xY!", m)
	assert.True(t, ok)
	assert.Equal(t, "bc, !", text)
}

func TestDecodeWithoutLettersIsUnchanged(t *testing.T) {
	t.Parallel()
	full := Build(scrambled(novaPerm), catalogFor())
	for _, m := range []Map{nil, {}, full} {
		text, ok := Decode("12 — 34, «…»", m)
		assert.Equal(t, "12 — 34, «…»", text)
		assert.False(t, ok)
	}
}

func TestDecodeEmptyMap(t *testing.T) {
	t.Parallel()
	text, ok := Decode("sCvA", Map{})
	assert.Equal(t, "sCvA", text)
	assert.False(t, ok)
}

func TestDecodePreservesMappedCase(t *testing.T) {
	t.Parallel()
	text, ok := Decode("aA", Map{'a': 'Z', 'A': 'q'})
	assert.True(t, ok)
	assert.Equal(t, "Zq", text)
}

func TestDecoderCachesByFont(t *testing.T) {
	t.Parallel()
	provider := &memProvider{glyphs: scrambled(novaPerm)}
	d := NewDecoder(provider, catalogFor(), sha256.New(), zap.NewNop())

	res := d.Decode([]byte("font-a"), "sCvA")
	assert.Equal(t, Result{Text: "Nova", Success: true, Mapped: 52}, res)
	d.Decode([]byte("font-a"), "sCvA sCvA")
	assert.Equal(t, 1, provider.calls)

	d.Decode([]byte("font-b"), "x")
	assert.Equal(t, 2, provider.calls)
}

func TestDecoderDegradesOnProviderError(t *testing.T) {
	t.Parallel()
	d := NewDecoder(&memProvider{err: errors.New("bad font")}, catalogFor(), sha256.New(), zap.NewNop())
	res := d.Decode([]byte("junk"), "sCvA")
	assert.Equal(t, Result{Text: "sCvA"}, res)
}

func TestDecoderEmptyCatalog(t *testing.T) {
	t.Parallel()
	provider := &memProvider{glyphs: scrambled(novaPerm)}
	d := NewDecoder(provider, nil, sha256.New(), zap.NewNop())
	res := d.Decode([]byte("font"), "sCvA")
	assert.False(t, res.Success)
	assert.Equal(t, "sCvA", res.Text)
	assert.Zero(t, provider.calls)
}

func TestParseCatalog(t *testing.T) {
	t.Parallel()
	cat, err := ParseCatalog([]byte(`{"500x300x700":"a","310x690":"Q"}`))
	require.NoError(t, err)
	assert.Equal(t, Catalog{"500x300x700": 'a', "310x690": 'Q'}, cat)

	_, err = ParseCatalog([]byte(`{"1x1":"ab"}`))
	require.Error(t, err)
	_, err = ParseCatalog([]byte(`{"1x1":"7"}`))
	require.Error(t, err)
	_, err = ParseCatalog([]byte(`[`))
	require.Error(t, err)
}

func TestMapString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "A->b a->C", Map{'a': 'C', 'A': 'b'}.String())
}
