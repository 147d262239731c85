package glyph

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/novel-crawler/internal/crawler"
	"github.com/JakeFAU/novel-crawler/internal/metrics"
)

// Result is a decode outcome. Mapped is the size of the map used.
type Result struct {
	Text    string
	Success bool
	Mapped  int
}

// Decoder builds maps from font bytes and caches them by font digest for the
// life of the process. It never returns errors: any failure degrades to an
// unchanged text with Success=false.
type Decoder struct {
	provider GeometryProvider
	catalog  Catalog
	hasher   crawler.Hasher
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string]Map
}

// NewDecoder wires a provider and catalog.
func NewDecoder(provider GeometryProvider, catalog Catalog, hasher crawler.Hasher, logger *zap.Logger) *Decoder {
	if provider == nil {
		provider = SFNTProvider{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{
		provider: provider,
		catalog:  catalog,
		hasher:   hasher,
		logger:   logger.Named("glyph"),
		cache:    map[string]Map{},
	}
}

// MapFor returns the (possibly empty) map for font.
func (d *Decoder) MapFor(font []byte) Map {
	key, err := d.hasher.Hash(font)
	if err != nil {
		d.logger.Warn("font hash failed", zap.Error(err))
		return d.build(font)
	}
	d.mu.Lock()
	m, ok := d.cache[key]
	d.mu.Unlock()
	if ok {
		return m
	}
	m = d.build(font)
	d.mu.Lock()
	d.cache[key] = m
	d.mu.Unlock()
	return m
}

func (d *Decoder) build(font []byte) Map {
	if len(d.catalog) == 0 {
		d.logger.Warn("glyph catalog is empty")
		return Map{}
	}
	glyphs, err := d.provider.Glyphs(font)
	if err != nil {
		d.logger.Warn("font geometry unavailable", zap.Error(err))
		return Map{}
	}
	m := Build(glyphs, d.catalog)
	if len(m) == 0 {
		d.logger.Warn("font produced no catalog hits", zap.Error(fmt.Errorf("%w: %d glyphs", ErrNoMapping, len(glyphs))))
		return m
	}
	d.logger.Debug("glyph map built", zap.Int("glyphs", len(glyphs)), zap.Int("pairs", len(m)))
	return m
}

// Decode resolves text through the map built from font.
func (d *Decoder) Decode(font []byte, text string) Result {
	m := d.MapFor(font)
	out, ok := Decode(text, m)
	outcome := "unchanged"
	if ok {
		outcome = "decoded"
	}
	metrics.ObserveDecode(outcome)
	return Result{Text: out, Success: ok, Mapped: len(m)}
}
