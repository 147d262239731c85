package captcha

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/novel-crawler/internal/browser/browsertest"
)

func pageWith(t *testing.T, selectors map[string]map[string]string) *browsertest.Tab {
	t.Helper()
	tab := browsertest.NewTab()
	tab.Script("https://site.test/c/1", browsertest.Response{Status: 200, Selectors: selectors})
	_, err := tab.Navigate(context.Background(), "https://site.test/c/1")
	require.NoError(t, err)
	return tab
}

func TestDetect(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		selectors map[string]map[string]string
		wantFound bool
		wantKind  Kind
		wantKey   string
	}{
		{name: "none", selectors: map[string]map[string]string{"#content": {}}},
		{
			name: "recaptcha iframe with widget key",
			selectors: map[string]map[string]string{
				`iframe[src*="recaptcha"]`: {},
				".g-recaptcha":             {"data-sitekey": "rc-key"},
			},
			wantFound: true, wantKind: KindReCaptcha, wantKey: "rc-key",
		},
		{
			name:      "hcaptcha widget",
			selectors: map[string]map[string]string{".h-captcha": {"data-sitekey": "hc-key"}},
			wantFound: true, wantKind: KindHCaptcha, wantKey: "hc-key",
		},
		{
			name:      "turnstile",
			selectors: map[string]map[string]string{".cf-turnstile": {"data-sitekey": "ts-key"}},
			wantFound: true, wantKind: KindTurnstile, wantKey: "ts-key",
		},
		{
			name: "generic falls back to any sitekey",
			selectors: map[string]map[string]string{
				"#captcha":       {},
				"[data-sitekey]": {"data-sitekey": "any-key"},
			},
			wantFound: true, wantKind: KindGeneric, wantKey: "any-key",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ch, found, err := Detect(context.Background(), pageWith(t, tc.selectors), "https://site.test/c/1")
			require.NoError(t, err)
			assert.Equal(t, tc.wantFound, found)
			if !tc.wantFound {
				return
			}
			assert.Equal(t, tc.wantKind, ch.Kind)
			assert.Equal(t, tc.wantKey, ch.SiteKey)
			assert.Equal(t, "https://site.test/c/1", ch.PageURL)
		})
	}
}

func TestInjectWritesResponseFields(t *testing.T) {
	t.Parallel()
	tab := pageWith(t, nil)
	require.NoError(t, Inject(context.Background(), tab, KindHCaptcha, "tok-123"))
	assert.True(t, tab.EvaluatedContaining(`"tok-123"`))
	assert.True(t, tab.EvaluatedContaining(`"h-captcha-response"`))
}

func TestUnavailable(t *testing.T) {
	t.Parallel()
	res, err := Unavailable{}.Solve(context.Background(), Challenge{Kind: KindReCaptcha})
	require.ErrorIs(t, err, ErrNoSolver)
	assert.False(t, res.Solved)
	assert.NotEmpty(t, Selectors())
}
