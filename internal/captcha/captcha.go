// Package captcha detects CAPTCHA widgets on a loaded page and hands them to
// a solving provider. Solving is never guaranteed; Unavailable is the
// explicit "no provider" solver.
package captcha

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies a CAPTCHA family.
type Kind string

// Known CAPTCHA families.
const (
	KindReCaptcha Kind = "recaptcha"
	KindHCaptcha  Kind = "hcaptcha"
	KindTurnstile Kind = "turnstile"
	KindGeneric   Kind = "generic"
)

// ErrNoSolver is reported by Unavailable.
var ErrNoSolver = errors.New("no captcha solver configured")

// Challenge is a CAPTCHA found on a page.
type Challenge struct {
	Kind    Kind
	SiteKey string
	PageURL string
}

// Result is the outcome of a solve attempt.
type Result struct {
	Solved bool
	Token  string
}

// Solver resolves a Challenge into a token.
type Solver interface {
	Name() string
	Solve(ctx context.Context, ch Challenge) (Result, error)
}

// Unavailable never solves anything.
type Unavailable struct{}

// Name implements Solver.
func (Unavailable) Name() string { return "unavailable" }

// Solve implements Solver.
func (Unavailable) Solve(context.Context, Challenge) (Result, error) {
	return Result{}, ErrNoSolver
}

// SolverError is a terminal error reported by a remote provider.
type SolverError struct {
	Provider string
	Message  string
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
