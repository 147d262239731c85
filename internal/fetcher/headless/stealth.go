package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"

	"github.com/JakeFAU/novel-crawler/internal/browser"
)

// stealthTemplate masks the usual headless giveaways. Placeholders are
// replaced with JSON literals by stealthScript.
const stealthTemplate = `
(() => {
  const define = (obj, prop, value) => {
    try { Object.defineProperty(obj, prop, { get: () => value, configurable: true }); } catch (e) {}
  };
  define(navigator, 'webdriver', undefined);
  try { delete Object.getPrototypeOf(navigator).webdriver; } catch (e) {}
  define(navigator, 'languages', Object.freeze(__LANGUAGES__));
  define(navigator, 'language', __LANGUAGES__[0]);
  define(navigator, 'platform', __PLATFORM__);
  define(navigator, 'hardwareConcurrency', 8);
  define(navigator, 'deviceMemory', 8);
  define(navigator, 'plugins', [
    { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
    { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '' },
    { name: 'Native Client', filename: 'internal-nacl-plugin', description: '' },
  ]);
  if (!window.chrome) {
    Object.defineProperty(window, 'chrome', { value: {}, writable: true, configurable: false });
  }
  if (!window.chrome.runtime) {
    window.chrome.runtime = { connect: function() {}, sendMessage: function() {} };
  }
  try {
    const originalQuery = Permissions.prototype.query;
    Permissions.prototype.query = function(params) {
      if (params && params.name === 'notifications') {
        return Promise.resolve({ state: Notification.permission });
      }
      return originalQuery.call(this, params);
    };
  } catch (e) {}
  const patchWebGL = (proto) => {
    if (!proto) return;
    const getParameter = proto.getParameter;
    proto.getParameter = function(param) {
      if (param === 37445) return __WEBGL_VENDOR__;
      if (param === 37446) return __WEBGL_RENDERER__;
      return getParameter.call(this, param);
    };
  };
  patchWebGL(window.WebGLRenderingContext && WebGLRenderingContext.prototype);
  patchWebGL(window.WebGL2RenderingContext && WebGL2RenderingContext.prototype);
})();
`

func jsLiteral(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// stealthScript renders the evasion script for fp.
func stealthScript(fp browser.Fingerprint) string {
	langs := fp.Languages
	if len(langs) == 0 {
		langs = []string{"en-US", "en"}
	}
	return strings.NewReplacer(
		"__LANGUAGES__", jsLiteral(langs),
		"__PLATFORM__", jsLiteral(fp.Platform),
		"__WEBGL_VENDOR__", jsLiteral(fp.WebGLVendor),
		"__WEBGL_RENDERER__", jsLiteral(fp.WebGLRenderer),
	).Replace(stealthTemplate)
}

// applyFingerprint pushes fp into the target through emulation overrides and
// a document-start script.
func applyFingerprint(ctx context.Context, fp browser.Fingerprint) error {
	if fp.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(fp.UserAgent).
			WithAcceptLanguage(fp.AcceptLanguage()).
			WithPlatform(fp.Platform)
		if err := ua.Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
	}
	if fp.Viewport.Width > 0 && fp.Viewport.Height > 0 {
		metrics := emulation.SetDeviceMetricsOverride(int64(fp.Viewport.Width), int64(fp.Viewport.Height), 1, false)
		if err := metrics.Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
	}
	if len(fp.Languages) > 0 {
		if err := emulation.SetLocaleOverride().WithLocale(fp.Languages[0]).Do(ctx); err != nil {
			return fmt.Errorf("set locale: %w", err)
		}
	}
	if fp.Timezone != "" {
		if err := emulation.SetTimezoneOverride(fp.Timezone).Do(ctx); err != nil {
			return fmt.Errorf("set timezone: %w", err)
		}
	}
	if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript(fp)).Do(ctx); err != nil {
		return fmt.Errorf("install stealth script: %w", err)
	}
	return nil
}
