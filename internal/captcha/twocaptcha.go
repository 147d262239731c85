package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/novel-crawler/internal/crawler"
)

// DefaultTwoCaptchaURL is the 2Captcha legacy API root.
const DefaultTwoCaptchaURL = "https://2captcha.com"

// ErrSolveTimeout is returned when polling gives up.
var ErrSolveTimeout = errors.New("captcha solve timed out")

// TwoCaptchaConfig configures the 2Captcha client.
type TwoCaptchaConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	Timeout      time.Duration
}

// TwoCaptcha solves challenges through the 2Captcha in.php/res.php API.
type TwoCaptcha struct {
	cfg     TwoCaptchaConfig
	client  *http.Client
	sleeper crawler.Sleeper
	logger  *zap.Logger
}

// NewTwoCaptcha builds a 2Captcha solver.
func NewTwoCaptcha(cfg TwoCaptchaConfig, client *http.Client, sleeper crawler.Sleeper, logger *zap.Logger) (*TwoCaptcha, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("2captcha api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwoCaptchaURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TwoCaptcha{cfg: cfg, client: client, sleeper: sleeper, logger: logger.Named("2captcha")}, nil
}

// Name implements Solver.
func (t *TwoCaptcha) Name() string { return "2captcha" }

// Solve submits ch and polls until a token is ready or the timeout elapses.
func (t *TwoCaptcha) Solve(ctx context.Context, ch Challenge) (Result, error) {
	if ch.SiteKey == "" {
		return Result{}, &SolverError{Provider: t.Name(), Message: "challenge has no sitekey"}
	}
	taskID, err := t.submit(ctx, ch)
	if err != nil {
		return Result{}, err
	}
	t.logger.Info("captcha submitted", zap.String("kind", string(ch.Kind)), zap.String("task_id", taskID))
	token, err := t.poll(ctx, taskID)
	if err != nil {
		return Result{}, err
	}
	return Result{Solved: true, Token: token}, nil
}

func (t *TwoCaptcha) submit(ctx context.Context, ch Challenge) (string, error) {
	values := url.Values{
		"key":     {t.cfg.APIKey},
		"json":    {"1"},
		"pageurl": {ch.PageURL},
		"sitekey": {ch.SiteKey},
	}
	switch ch.Kind {
	case KindTurnstile:
		values.Set("method", "turnstile")
	case KindHCaptcha:
		values.Set("method", "hcaptcha")
	case KindReCaptcha, KindGeneric:
		values.Set("method", "userrecaptcha")
	default:
		return "", &SolverError{Provider: t.Name(), Message: "unsupported challenge kind " + string(ch.Kind)}
	}
	res, err := t.call(ctx, "/in.php", values)
	if err != nil {
		return "", err
	}
	if res.Status != 1 {
		return "", &SolverError{Provider: t.Name(), Message: res.Request}
	}
	return res.Request, nil
}

func (t *TwoCaptcha) poll(ctx context.Context, taskID string) (string, error) {
	values := url.Values{
		"key":    {t.cfg.APIKey},
		"action": {"get"},
		"id":     {taskID},
		"json":   {"1"},
	}
	attempts := max(int(t.cfg.Timeout/t.cfg.PollInterval), 1)
	for range attempts {
		if err := t.sleeper.Sleep(ctx, t.cfg.PollInterval); err != nil {
			return "", err
		}
		res, err := t.call(ctx, "/res.php", values)
		if err != nil {
			t.logger.Debug("captcha poll failed", zap.Error(err))
			continue
		}
		if res.Status == 1 {
			return res.Request, nil
		}
		switch {
		case res.Request == "CAPCHA_NOT_READY":
			continue
		case strings.HasPrefix(res.Request, "ERROR_"):
			return "", &SolverError{Provider: t.Name(), Message: res.Request}
		}
	}
	return "", ErrSolveTimeout
}

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

func (t *TwoCaptcha) call(ctx context.Context, path string, values url.Values) (apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.BaseURL+path+"?"+values.Encode(), nil)
	if err != nil {
		return apiResponse{}, fmt.Errorf("build 2captcha request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return apiResponse{}, fmt.Errorf("call 2captcha %s: %w", path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return apiResponse{}, fmt.Errorf("read 2captcha response: %w", err)
	}
	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return apiResponse{}, fmt.Errorf("decode 2captcha response %q: %w", string(body), err)
	}
	return out, nil
}
