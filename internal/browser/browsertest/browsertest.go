// Package browsertest provides scriptable in-memory implementations of the
// browser capabilities for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/novel-crawler/internal/browser"
)

// Response scripts one navigation of a Tab.
type Response struct {
	Status int
	Err    error
	Title  string
	// Titles, when set, are returned by successive Title calls after the
	// navigation; the last one repeats.
	Titles    []string
	HTML      string
	BodyText  string
	Selectors map[string]map[string]string
}

// Tab is a browser.Tab that replays scripted Responses per URL, in order.
type Tab struct {
	mu        sync.Mutex
	ID        int
	Scripts   map[string][]Response
	Default   *Response
	current   Response
	titleIdx  int
	Visits    []string
	Evaluated []string
	Moves     int
	Scrolls   int
	Closed    bool
	CloseErr  error
}

// NewTab returns an empty scripted Tab.
func NewTab() *Tab {
	return &Tab{Scripts: map[string][]Response{}}
}

// Script appends responses for url.
func (t *Tab) Script(url string, responses ...Response) *Tab {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Scripts[url] = append(t.Scripts[url], responses...)
	return t
}

// Navigate implements browser.Tab.
func (t *Tab) Navigate(_ context.Context, url string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Visits = append(t.Visits, url)
	queue := t.Scripts[url]
	switch {
	case len(queue) > 0:
		t.current = queue[0]
		if len(queue) > 1 {
			t.Scripts[url] = queue[1:]
		}
	case t.Default != nil:
		t.current = *t.Default
	default:
		return 0, fmt.Errorf("no script for %s", url)
	}
	t.titleIdx = 0
	if t.current.Err != nil {
		return 0, t.current.Err
	}
	if t.current.Status == 0 {
		return 0, browser.ErrNoResponse
	}
	return t.current.Status, nil
}

// Title implements browser.Tab.
func (t *Tab) Title(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.current.Titles) == 0 {
		return t.current.Title, nil
	}
	idx := min(t.titleIdx, len(t.current.Titles)-1)
	t.titleIdx++
	return t.current.Titles[idx], nil
}

// BodyText implements browser.Tab.
func (t *Tab) BodyText(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.BodyText, nil
}

// HTML implements browser.Tab.
func (t *Tab) HTML(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.HTML, nil
}

// Exists implements browser.Tab.
func (t *Tab) Exists(_ context.Context, selector string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.current.Selectors[selector]
	return ok, nil
}

// Attribute implements browser.Tab.
func (t *Tab) Attribute(_ context.Context, selector, name string) (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	attrs, ok := t.current.Selectors[selector]
	if !ok {
		return "", false, nil
	}
	v, ok := attrs[name]
	return v, ok, nil
}

// Evaluate implements browser.Tab; it only records the expression.
func (t *Tab) Evaluate(_ context.Context, expression string, _ any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Evaluated = append(t.Evaluated, expression)
	return nil
}

// MouseMove implements browser.Tab.
func (t *Tab) MouseMove(context.Context, float64, float64, int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Moves++
	return nil
}

// Scroll implements browser.Tab.
func (t *Tab) Scroll(context.Context, int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Scrolls++
	return nil
}

// Close implements browser.Tab.
func (t *Tab) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return t.CloseErr
}

// VisitCount returns how many navigations hit url.
func (t *Tab) VisitCount(url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, v := range t.Visits {
		if v == url {
			n++
		}
	}
	return n
}

// EvaluatedContaining reports whether any evaluated expression contains s.
func (t *Tab) EvaluatedContaining(s string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.Evaluated {
		if strings.Contains(e, s) {
			return true
		}
	}
	return false
}

// Process is a browser.Process whose tabs come from NewTabFunc.
type Process struct {
	mu         sync.Mutex
	done       chan struct{}
	closed     bool
	Tabs       []*Tab
	NewTabFunc func(n int) *Tab
	NewTabErr  error
	Prints     []browser.Fingerprint
}

// NewProcess returns a running fake process.
func NewProcess() *Process {
	return &Process{done: make(chan struct{})}
}

// NewTab implements browser.Process.
func (p *Process) NewTab(_ context.Context, fp browser.Fingerprint, _ browser.TabOptions) (browser.Tab, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NewTabErr != nil {
		return nil, p.NewTabErr
	}
	var tab *Tab
	if p.NewTabFunc != nil {
		tab = p.NewTabFunc(len(p.Tabs))
	} else {
		tab = NewTab()
	}
	tab.ID = len(p.Tabs)
	p.Tabs = append(p.Tabs, tab)
	p.Prints = append(p.Prints, fp)
	return tab, nil
}

// Done implements browser.Process.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Disconnect simulates the process dying.
func (p *Process) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
}

// Close implements browser.Process.
func (p *Process) Close() error {
	p.Disconnect()
	return nil
}

// TabCount returns how many tabs were opened.
func (p *Process) TabCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Tabs)
}

// Launcher hands out Processes built by NewProcessFunc.
type Launcher struct {
	mu             sync.Mutex
	Starts         int
	Err            error
	NewProcessFunc func() *Process
	Last           *Process
}

// Start implements browser.Launcher.
func (l *Launcher) Start(context.Context) (browser.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Starts++
	if l.Err != nil {
		return nil, l.Err
	}
	proc := NewProcess()
	if l.NewProcessFunc != nil {
		proc = l.NewProcessFunc()
	}
	l.Last = proc
	return proc, nil
}

// StartCount returns how many processes were started.
func (l *Launcher) StartCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Starts
}

// Current returns the most recently started process.
func (l *Launcher) Current() *Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Last
}

// ErrScripted is a convenience error for scripted failures.
var ErrScripted = errors.New("scripted failure")
