package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/novel-crawler/internal/browser"
)

const opTimeout = 15 * time.Second

// Tab is one Chrome target implementing browser.Tab.
type Tab struct {
	ctx        context.Context
	cancel     context.CancelFunc
	navTimeout time.Duration
	meta       *responseMeta

	mu     sync.Mutex
	mouseX float64
	mouseY float64
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (t *Tab) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Navigate loads url and returns the status of the main document response.
func (t *Tab) Navigate(ctx context.Context, url string) (int, error) {
	t.meta.reset()
	if err := t.run(ctx, t.navTimeout, chromedp.Navigate(url)); err != nil {
		return 0, fmt.Errorf("navigate %s: %w", url, err)
	}
	status, _ := t.meta.snapshot()
	if status == 0 {
		return 0, browser.ErrNoResponse
	}
	return status, nil
}

// Title returns document.title.
func (t *Tab) Title(ctx context.Context) (string, error) {
	var title string
	if err := t.run(ctx, opTimeout, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

// BodyText returns the rendered text of the body.
func (t *Tab) BodyText(ctx context.Context) (string, error) {
	var text string
	expr := `document.body ? document.body.innerText : ""`
	if err := t.run(ctx, opTimeout, chromedp.Evaluate(expr, &text)); err != nil {
		return "", fmt.Errorf("read body text: %w", err)
	}
	return text, nil
}

// HTML returns the serialized document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	expr := `document.documentElement ? document.documentElement.outerHTML : ""`
	if err := t.run(ctx, opTimeout, chromedp.Evaluate(expr, &html)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Exists reports whether selector matches any element.
func (t *Tab) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	expr := fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(selector))
	if err := t.run(ctx, opTimeout, chromedp.Evaluate(expr, &found)); err != nil {
		return false, fmt.Errorf("query %s: %w", selector, err)
	}
	return found, nil
}

type attrResult struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
}

// Attribute returns the named attribute of the first element matching selector.
func (t *Tab) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	var res attrResult
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		const v = el ? el.getAttribute(%s) : null;
		return {found: v !== null, value: v === null ? "" : v};
	})()`, jsString(selector), jsString(name))
	if err := t.run(ctx, opTimeout, chromedp.Evaluate(expr, &res)); err != nil {
		return "", false, fmt.Errorf("read attribute %s[%s]: %w", selector, name, err)
	}
	return res.Value, res.Found, nil
}

// Evaluate runs expression in the page; res may be nil.
func (t *Tab) Evaluate(ctx context.Context, expression string, res any) error {
	if err := t.run(ctx, opTimeout, chromedp.Evaluate(expression, res)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// MouseMove moves the pointer to (x, y) in steps intermediate events.
func (t *Tab) MouseMove(ctx context.Context, x, y float64, steps int) error {
	steps = max(steps, 1)
	t.mu.Lock()
	fromX, fromY := t.mouseX, t.mouseY
	t.mouseX, t.mouseY = x, y
	t.mu.Unlock()

	actions := make([]chromedp.Action, 0, steps)
	for i := 1; i <= steps; i++ {
		f := float64(i) / float64(steps)
		actions = append(actions, chromedp.MouseEvent(input.MouseMoved, fromX+(x-fromX)*f, fromY+(y-fromY)*f))
	}
	if err := t.run(ctx, opTimeout, actions...); err != nil {
		return fmt.Errorf("mouse move: %w", err)
	}
	return nil
}

// Scroll scrolls the window vertically by deltaY pixels.
func (t *Tab) Scroll(ctx context.Context, deltaY int) error {
	expr := fmt.Sprintf(`window.scrollBy({top: %d, behavior: "smooth"})`, deltaY)
	if err := t.run(ctx, opTimeout, chromedp.Evaluate(expr, nil)); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

// Close closes the target.
func (t *Tab) Close() error {
	defer t.cancel()
	if err := chromedp.Cancel(t.ctx); err != nil {
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}

func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status, m.url = 0, ""
	m.mu.Unlock()
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func consoleListener(report func(string)) func(ev any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			if e.Type != runtime.APITypeError {
				return
			}
			report(consoleText(e.Args))
		case *runtime.EventExceptionThrown:
			if e.ExceptionDetails == nil {
				return
			}
			msg := e.ExceptionDetails.Text
			if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
				msg = e.ExceptionDetails.Exception.Description
			}
			report(msg)
		}
	}
}

func consoleText(args []*runtime.RemoteObject) string {
	var out string
	for i, arg := range args {
		if arg == nil {
			continue
		}
		part := arg.Description
		if part == "" && len(arg.Value) > 0 {
			var s string
			if err := json.Unmarshal(arg.Value, &s); err == nil {
				part = s
			} else {
				part = string(arg.Value)
			}
		}
		if i > 0 {
			out += " "
		}
		out += part
	}
	return out
}
