package browser

import (
	"strconv"
	"strings"

	"github.com/JakeFAU/novel-crawler/internal/crawler"
	"github.com/JakeFAU/novel-crawler/internal/random"
)

// Viewport is the emulated window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Fingerprint is the set of spoofed client signals a Session presents.
// It is generated per Session and never shared.
type Fingerprint struct {
	UserAgent     string   `json:"user_agent"`
	Viewport      Viewport `json:"viewport"`
	Languages     []string `json:"languages"`
	Timezone      string   `json:"timezone"`
	Platform      string   `json:"platform"`
	WebGLVendor   string   `json:"webgl_vendor"`
	WebGLRenderer string   `json:"webgl_renderer"`
}

// AcceptLanguage renders Languages as an Accept-Language header value.
func (f Fingerprint) AcceptLanguage() string {
	if len(f.Languages) == 0 {
		return "en-US,en;q=0.9"
	}
	parts := make([]string, 0, len(f.Languages))
	for i, lang := range f.Languages {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		q := max(1.0-0.1*float64(i), 0.1)
		parts = append(parts, lang+";q="+strconv.FormatFloat(q, 'f', 1, 64))
	}
	return strings.Join(parts, ",")
}

type agentProfile struct {
	userAgent string
	platform  string
}

var agentProfiles = []agentProfile{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36", "MacIntel"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", "MacIntel"},
	{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36", "Linux x86_64"},
}

var viewports = []Viewport{
	{1920, 1080}, {1366, 768}, {1536, 864}, {1440, 900}, {1280, 720}, {1600, 900},
}

var languageSets = [][]string{
	{"en-US", "en"},
	{"en-GB", "en"},
	{"en-US", "en", "es"},
	{"en-CA", "en", "fr"},
}

var timezones = []string{
	"America/New_York", "America/Chicago", "America/Denver", "America/Los_Angeles", "Europe/London",
}

type gpuProfile struct {
	vendor   string
	renderer string
}

var gpuProfiles = []gpuProfile{
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1650 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 580 Series Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Intel Inc.", "Intel Iris OpenGL Engine"},
}

// NewFingerprint draws a fresh Fingerprint from the built-in tables. The
// platform always matches the chosen user agent.
func NewFingerprint(r crawler.Random) Fingerprint {
	agent := random.Pick(r, agentProfiles)
	gpu := random.Pick(r, gpuProfiles)
	langs := random.Pick(r, languageSets)
	return Fingerprint{
		UserAgent:     agent.userAgent,
		Viewport:      random.Pick(r, viewports),
		Languages:     append([]string(nil), langs...),
		Timezone:      random.Pick(r, timezones),
		Platform:      agent.platform,
		WebGLVendor:   gpu.vendor,
		WebGLRenderer: gpu.renderer,
	}
}
