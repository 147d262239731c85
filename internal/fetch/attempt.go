package fetch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/novel-crawler/internal/browser"
	"github.com/JakeFAU/novel-crawler/internal/captcha"
	"github.com/JakeFAU/novel-crawler/internal/random"
)

var challengeTitles = []string{"just a moment", "ddos-guard", "cloudflare"}

// invalidPhrases mark a page that rendered a JS-required or failed-challenge
// notice instead of content.
var invalidPhrases = []string{
	"please enable javascript",
	"javascript is disabled",
	"enable javascript and cookies to continue",
	"checking your browser before accessing",
	"challenge failed",
}

// explicitBlockPhrases always indicate a block.
var explicitBlockPhrases = []string{
	"access denied for your ip",
	"your request was blocked",
	"rate limit exceeded",
	"too many requests from your ip",
}

// genericBlockPhrases only indicate a block on small pages.
var genericBlockPhrases = []string{"access denied", "blocked"}

// IsChallengeTitle reports whether title belongs to a bot-challenge
// interstitial.
func IsChallengeTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, sig := range challengeTitles {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// IsBlocked is the block heuristic over a page's text and HTML size.
func IsBlocked(text string, htmlLen, genericMaxLen int) bool {
	lower := strings.ToLower(text)
	for _, p := range explicitBlockPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	if htmlLen >= genericMaxLen {
		return false
	}
	for _, p := range genericBlockPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func invalidPhrase(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range invalidPhrases {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}

// attempt runs one NAVIGATE → CHALLENGE_WAIT → CONTENT_CHECK pass.
func (f *Fetcher) attempt(ctx context.Context, sess *browser.Session, url string, logger *zap.Logger) (string, error) {
	tab := sess.Tab
	if err := f.sleeper.Sleep(ctx, random.DurationBetween(f.rand, f.cfg.PacingMin, f.cfg.PacingMax)); err != nil {
		return "", err
	}

	status, err := tab.Navigate(ctx, url)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return "", ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return "", newError(KindTimeout, 0, err, "Navigation timeout")
		case errors.Is(err, browser.ErrNoResponse):
			return "", newError(KindNetwork, 0, nil, "No response received")
		default:
			return "", newError(KindNetwork, 0, err, "Navigation failed")
		}
	}

	f.waitChallenge(ctx, tab, logger)

	switch {
	case status == http.StatusNotFound:
		return "", &Error{Kind: KindNotFound, Status: status, Msg: "Page not found (404)"}
	case status == http.StatusForbidden:
		logger.Warn("403 forbidden; continuing with challenge handling")
	case status >= http.StatusInternalServerError:
		return "", newError(KindServer, status, nil, "Server error (%d)", status)
	}

	if err := f.sleeper.Sleep(ctx, random.DurationBetween(f.rand, f.cfg.SettleMin, f.cfg.SettleMax)); err != nil {
		return "", err
	}

	if err := f.handleCaptcha(ctx, tab, url, logger); err != nil {
		return "", err
	}

	body, err := tab.BodyText(ctx)
	if err != nil {
		return "", newError(KindNetwork, status, err, "Read page text")
	}
	html, err := tab.HTML(ctx)
	if err != nil {
		return "", newError(KindNetwork, status, err, "Read page html")
	}

	if len(html) < f.cfg.MinHTMLLength {
		return "", newError(KindContent, status, nil, "Content too short (%d chars)", len(html))
	}
	text := body
	if text == "" {
		text = html
	}
	if phrase, bad := invalidPhrase(text); bad {
		return "", newError(KindContent, status, nil, "Invalid page content: %q", phrase)
	}
	if IsBlocked(text, len(html), f.cfg.GenericBlockMaxLength) {
		return "", newError(KindBlocked, status, nil, "Blocked by site")
	}
	return html, nil
}

// waitChallenge polls the title while a challenge interstitial is showing.
// Giving up is logged, not returned.
func (f *Fetcher) waitChallenge(ctx context.Context, tab browser.Tab, logger *zap.Logger) {
	title, err := tab.Title(ctx)
	if err != nil || !IsChallengeTitle(title) {
		return
	}
	logger.Info("bot challenge detected; waiting", zap.String("title", title))
	for waited := time.Duration(0); waited < f.cfg.ChallengeWait; waited += f.cfg.ChallengePoll {
		if err := f.sleeper.Sleep(ctx, f.cfg.ChallengePoll); err != nil {
			return
		}
		title, err = tab.Title(ctx)
		if err == nil && !IsChallengeTitle(title) {
			logger.Info("bot challenge cleared", zap.String("title", title))
			return
		}
	}
	logger.Warn("bot challenge wait timed out; continuing", zap.Duration("waited", f.cfg.ChallengeWait))
}

func (f *Fetcher) handleCaptcha(ctx context.Context, tab browser.Tab, url string, logger *zap.Logger) error {
	ch, found, err := captcha.Detect(ctx, tab, url)
	if err != nil {
		logger.Debug("captcha probe failed", zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}
	logger.Warn("captcha detected", zap.String("kind", string(ch.Kind)), zap.String("solver", f.solver.Name()))
	res, err := f.solver.Solve(ctx, ch)
	if err != nil {
		return newError(KindCaptcha, 0, err, "CAPTCHA detected but could not be solved")
	}
	if !res.Solved {
		return newError(KindCaptcha, 0, nil, "CAPTCHA detected but could not be solved")
	}
	if err := captcha.Inject(ctx, tab, ch.Kind, res.Token); err != nil {
		return newError(KindCaptcha, 0, err, "CAPTCHA token injection failed")
	}
	logger.Info("captcha solved", zap.String("kind", string(ch.Kind)))
	return f.sleeper.Sleep(ctx, random.DurationBetween(f.rand, f.cfg.SettleMin, f.cfg.SettleMax))
}

// humanize moves the pointer around, maybe scrolls, then idles briefly.
// Failures are ignored.
func (f *Fetcher) humanize(ctx context.Context, sess *browser.Session) {
	vp := sess.Fingerprint.Viewport
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = browser.Viewport{Width: 1280, Height: 720}
	}
	moves := random.IntBetween(f.rand, 2, 4)
	for range moves {
		x := float64(random.IntBetween(f.rand, 50, vp.Width-50))
		y := float64(random.IntBetween(f.rand, 50, vp.Height-50))
		if err := sess.Tab.MouseMove(ctx, x, y, random.IntBetween(f.rand, 5, 25)); err != nil {
			f.logger.Debug("mouse move failed", zap.Error(err))
			return
		}
	}
	if random.Chance(f.rand, 0.5) {
		if err := sess.Tab.Scroll(ctx, random.IntBetween(f.rand, 100, 600)); err != nil {
			f.logger.Debug("scroll failed", zap.Error(err))
		}
	}
	_ = f.sleeper.Sleep(ctx, random.DurationBetween(f.rand, 500*time.Millisecond, 1500*time.Millisecond))
}
