package captcha

import (
	"context"
	"fmt"
)

// Page is the slice of browser.Tab the detector needs.
type Page interface {
	Exists(ctx context.Context, selector string) (bool, error)
	Attribute(ctx context.Context, selector, name string) (string, bool, error)
	Evaluate(ctx context.Context, expression string, res any) error
}

type probe struct {
	kind     Kind
	selector string
	// keySelector carries data-sitekey when it differs from selector.
	keySelector string
}

// probes are checked in order; the first match wins.
var probes = []probe{
	{KindReCaptcha, `iframe[src*="recaptcha"]`, ".g-recaptcha"},
	{KindReCaptcha, ".g-recaptcha", ""},
	{KindHCaptcha, `iframe[src*="hcaptcha"]`, ".h-captcha"},
	{KindHCaptcha, ".h-captcha", ""},
	{KindTurnstile, `iframe[src*="challenges.cloudflare.com"]`, ".cf-turnstile"},
	{KindTurnstile, ".cf-turnstile", ""},
	{KindGeneric, "#captcha", ""},
}

// Selectors returns the detection selectors in probe order.
func Selectors() []string {
	out := make([]string, 0, len(probes))
	for _, p := range probes {
		out = append(out, p.selector)
	}
	return out
}

// Detect probes page for a known CAPTCHA widget.
func Detect(ctx context.Context, page Page, pageURL string) (Challenge, bool, error) {
	for _, p := range probes {
		found, err := page.Exists(ctx, p.selector)
		if err != nil {
			return Challenge{}, false, fmt.Errorf("probe %s: %w", p.selector, err)
		}
		if !found {
			continue
		}
		ch := Challenge{Kind: p.kind, PageURL: pageURL}
		keySel := p.keySelector
		if keySel == "" {
			keySel = p.selector
		}
		if key, ok, err := page.Attribute(ctx, keySel, "data-sitekey"); err == nil && ok {
			ch.SiteKey = key
		}
		if ch.SiteKey == "" {
			if key, ok, err := page.Attribute(ctx, "[data-sitekey]", "data-sitekey"); err == nil && ok {
				ch.SiteKey = key
			}
		}
		return ch, true, nil
	}
	return Challenge{}, false, nil
}

// responseFields lists the hidden inputs each family reads its token from.
var responseFields = map[Kind][]string{
	KindReCaptcha: {"g-recaptcha-response"},
	KindHCaptcha:  {"h-captcha-response", "g-recaptcha-response"},
	KindTurnstile: {"cf-turnstile-response"},
	KindGeneric:   {"captcha-response", "g-recaptcha-response"},
}

// Inject writes token into the page's response fields and fires the widget
// callback when one is declared.
func Inject(ctx context.Context, page Page, kind Kind, token string) error {
	fields := responseFields[kind]
	if len(fields) == 0 {
		fields = responseFields[KindGeneric]
	}
	expr := fmt.Sprintf(`(() => {
		const token = %q;
		for (const name of %s) {
			document.querySelectorAll('[name="' + name + '"], #' + name).forEach((el) => {
				el.style.display = 'block';
				el.value = token;
				el.innerHTML = token;
			});
		}
		const widget = document.querySelector('[data-callback]');
		const cb = widget && window[widget.getAttribute('data-callback')];
		if (typeof cb === 'function') { cb(token); }
		return true;
	})()`, token, jsArray(fields))
	if err := page.Evaluate(ctx, expr, nil); err != nil {
		return fmt.Errorf("inject captcha token: %w", err)
	}
	return nil
}

func jsArray(items []string) string {
	out := "["
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%q", s)
	}
	return out + "]"
}
