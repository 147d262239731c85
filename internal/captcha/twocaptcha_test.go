package captcha

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-crawler/internal/clock/fake"
)

func newTwoCaptcha(t *testing.T, handler http.HandlerFunc) (*TwoCaptcha, *fake.Clock) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	clock := fake.New(time.Time{})
	solver, err := NewTwoCaptcha(TwoCaptchaConfig{
		APIKey:       "secret",
		BaseURL:      srv.URL,
		PollInterval: time.Second,
		Timeout:      5 * time.Second,
	}, srv.Client(), clock, zap.NewNop())
	require.NoError(t, err)
	return solver, clock
}

func TestTwoCaptchaSolve(t *testing.T) {
	t.Parallel()
	var polls atomic.Int32
	solver, clock := newTwoCaptcha(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/in.php":
			assert.Equal(t, "hcaptcha", r.URL.Query().Get("method"))
			assert.Equal(t, "hc-key", r.URL.Query().Get("sitekey"))
			_, _ = w.Write([]byte(`{"status":1,"request":"task-9"}`))
		case "/res.php":
			assert.Equal(t, "task-9", r.URL.Query().Get("id"))
			if polls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{"status":0,"request":"CAPCHA_NOT_READY"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":1,"request":"token-abc"}`))
		}
	})

	res, err := solver.Solve(context.Background(), Challenge{Kind: KindHCaptcha, SiteKey: "hc-key", PageURL: "https://site.test"})
	require.NoError(t, err)
	assert.True(t, res.Solved)
	assert.Equal(t, "token-abc", res.Token)
	assert.Equal(t, 3*time.Second, clock.Slept())
}

func TestTwoCaptchaSubmitRejected(t *testing.T) {
	t.Parallel()
	solver, _ := newTwoCaptcha(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":0,"request":"ERROR_ZERO_BALANCE"}`))
	})
	_, err := solver.Solve(context.Background(), Challenge{Kind: KindReCaptcha, SiteKey: "k"})
	var serr *SolverError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "ERROR_ZERO_BALANCE", serr.Message)
}

func TestTwoCaptchaUnsolvable(t *testing.T) {
	t.Parallel()
	solver, _ := newTwoCaptcha(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/in.php" {
			_, _ = w.Write([]byte(`{"status":1,"request":"t"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":0,"request":"ERROR_CAPTCHA_UNSOLVABLE"}`))
	})
	_, err := solver.Solve(context.Background(), Challenge{Kind: KindTurnstile, SiteKey: "k"})
	var serr *SolverError
	require.ErrorAs(t, err, &serr)
}

func TestTwoCaptchaTimesOut(t *testing.T) {
	t.Parallel()
	solver, clock := newTwoCaptcha(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/in.php" {
			_, _ = w.Write([]byte(`{"status":1,"request":"t"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":0,"request":"CAPCHA_NOT_READY"}`))
	})
	_, err := solver.Solve(context.Background(), Challenge{Kind: KindReCaptcha, SiteKey: "k"})
	require.True(t, errors.Is(err, ErrSolveTimeout))
	assert.Equal(t, 5*time.Second, clock.Slept())
}

func TestTwoCaptchaRequiresSiteKeyAndAPIKey(t *testing.T) {
	t.Parallel()
	_, err := NewTwoCaptcha(TwoCaptchaConfig{}, nil, fake.New(time.Time{}), nil)
	require.Error(t, err)

	solver, _ := newTwoCaptcha(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	})
	_, err = solver.Solve(context.Background(), Challenge{Kind: KindReCaptcha})
	var serr *SolverError
	require.ErrorAs(t, err, &serr)
}
