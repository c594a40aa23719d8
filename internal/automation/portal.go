// Package automation drives the Heetch partner portal login through a
// real headless browser. The portal has no credential API, so cookies
// are harvested from an automated login that behaves like a person:
// typed input with jitter and a curved pointer path to the CAPTCHA
// widget. Only one browser runs at a time.
package automation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"fleetsync/internal/client/heetch"
	"fleetsync/internal/worker"
)

// ErrLoginFailed means the portal rejected the credentials or the flow
// ended somewhere we do not recognize.
var ErrLoginFailed = errors.New("portal login failed")

// Outcome is where a login attempt landed.
type Outcome string

const (
	OutcomeLoggedIn         Outcome = "logged_in"
	OutcomeSMSRequired      Outcome = "sms_required"
	OutcomePasswordRequired Outcome = "password_required"
)

// StartResult reports the first phase of a login. Cookies is only set
// for OutcomeLoggedIn; otherwise Handle addresses the live browser
// session awaiting CompleteLogin.
type StartResult struct {
	Handle  string
	Outcome Outcome
	Cookies []heetch.Cookie
}

type Config struct {
	LoginURL    string
	Headless    bool
	StepTimeout time.Duration
	PendingTTL  time.Duration
}

// Portal owns the browser lifecycle for portal logins.
type Portal struct {
	cfg      Config
	serial   *worker.Serial
	registry *registry
	logger   *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Portal {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 120 * time.Second
	}
	return &Portal{
		cfg:      cfg,
		serial:   worker.NewSerial(4, logger),
		registry: newRegistry(cfg.PendingTTL),
		logger:   logger,
	}
}

func (p *Portal) Close() {
	p.registry.closeAll()
	p.serial.Stop()
}

var (
	phoneSelectors    = []string{`input[name="phone"]`, `input[type="tel"]`, `#phone`}
	smsSelectors      = []string{`input[autocomplete="one-time-code"]`, `input[name="code"]`, `#sms-code`}
	passwordSelectors = []string{`input[type="password"]`, `input[name="password"]`}
	submitSelectors   = []string{`button[type="submit"]`, `form button`}
	captchaSelectors  = []string{`.g-recaptcha`, `iframe[src*="captcha"]`, `[data-captcha]`}
)

// StartLogin opens the portal, replays any stored cookies, and if a
// login is still needed enters the phone number and triggers the
// challenge. It blocks until the portal asks for a second factor or
// the session turns out to be already valid.
func (p *Portal) StartLogin(ctx context.Context, phone string, cookies []heetch.Cookie) (*StartResult, error) {
	var result *StartResult
	err := p.serial.Do(ctx, "portal-login-start", func() error {
		res, err := p.startLogin(phone, cookies)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

func (p *Portal) startLogin(phone string, cookies []heetch.Cookie) (*StartResult, error) {
	browserCtx, cancel := p.newBrowser()
	stepCtx, stepCancel := context.WithTimeout(browserCtx, p.cfg.StepTimeout)
	defer stepCancel()

	fail := func(err error) (*StartResult, error) {
		cancel()
		return nil, err
	}

	tasks := chromedp.Tasks{}
	if len(cookies) > 0 {
		tasks = append(tasks, setCookies(cookies))
	}
	tasks = append(tasks, chromedp.Navigate(p.cfg.LoginURL), chromedp.Sleep(1500*time.Millisecond))
	if err := chromedp.Run(stepCtx, tasks); err != nil {
		return fail(fmt.Errorf("open login page: %w", err))
	}

	// Replayed cookies that are still live bounce us straight off
	// the login page.
	if loggedIn, err := p.isLoggedIn(stepCtx); err != nil {
		return fail(err)
	} else if loggedIn {
		captured, err := p.captureAndClose(stepCtx, cancel)
		if err != nil {
			return nil, err
		}
		return &StartResult{Outcome: OutcomeLoggedIn, Cookies: captured}, nil
	}

	if _, err := waitAny(stepCtx, phoneSelectors); err != nil {
		return fail(fmt.Errorf("phone field not found: %w", err))
	}
	phoneSel := firstPresent(stepCtx, phoneSelectors)
	if err := chromedp.Run(stepCtx, typeSlow(phoneSel, phone)); err != nil {
		return fail(fmt.Errorf("enter phone: %w", err))
	}

	if sel := firstPresent(stepCtx, captchaSelectors); sel != "" {
		if err := humanClick(stepCtx, sel); err != nil {
			return fail(fmt.Errorf("captcha interaction: %w", err))
		}
		chromedp.Run(stepCtx, chromedp.Sleep(2*time.Second))
	}

	if sel := firstPresent(stepCtx, submitSelectors); sel != "" {
		if err := humanClick(stepCtx, sel); err != nil {
			return fail(fmt.Errorf("submit phone: %w", err))
		}
	}

	outcome, err := p.waitOutcome(stepCtx)
	if err != nil {
		return fail(err)
	}
	if outcome == OutcomeLoggedIn {
		captured, err := p.captureAndClose(stepCtx, cancel)
		if err != nil {
			return nil, err
		}
		return &StartResult{Outcome: OutcomeLoggedIn, Cookies: captured}, nil
	}

	handle := p.registry.put(&session{ctx: browserCtx, cancel: cancel})
	p.logger.Info("portal login pending second factor",
		zap.String("outcome", string(outcome)), zap.String("handle", handle))
	return &StartResult{Handle: handle, Outcome: outcome}, nil
}

// CompleteLogin resumes the browser session behind handle, supplies
// the SMS code and/or password, and returns the session cookies. The
// handle is consumed whether or not the login succeeds.
func (p *Portal) CompleteLogin(ctx context.Context, handle, smsCode, password string) ([]heetch.Cookie, error) {
	s, err := p.registry.claim(handle)
	if err != nil {
		return nil, err
	}
	var cookies []heetch.Cookie
	err = p.serial.Do(ctx, "portal-login-complete", func() error {
		captured, err := p.completeLogin(s, smsCode, password)
		if err != nil {
			return err
		}
		cookies = captured
		return nil
	})
	if err != nil {
		s.close()
		return nil, err
	}
	return cookies, nil
}

func (p *Portal) completeLogin(s *session, smsCode, password string) ([]heetch.Cookie, error) {
	stepCtx, stepCancel := context.WithTimeout(s.ctx, p.cfg.StepTimeout)
	defer stepCancel()

	if smsCode != "" {
		sel := firstPresent(stepCtx, smsSelectors)
		if sel == "" {
			return nil, fmt.Errorf("%w: sms field not present", ErrLoginFailed)
		}
		if err := chromedp.Run(stepCtx, typeSlow(sel, smsCode)); err != nil {
			return nil, fmt.Errorf("enter sms code: %w", err)
		}
		if submit := firstPresent(stepCtx, submitSelectors); submit != "" {
			if err := humanClick(stepCtx, submit); err != nil {
				return nil, fmt.Errorf("submit sms code: %w", err)
			}
		}
		chromedp.Run(stepCtx, chromedp.Sleep(1500*time.Millisecond))
	}

	if password != "" {
		if sel := firstPresent(stepCtx, passwordSelectors); sel != "" {
			if err := chromedp.Run(stepCtx, typeSlow(sel, password)); err != nil {
				return nil, fmt.Errorf("enter password: %w", err)
			}
			if submit := firstPresent(stepCtx, submitSelectors); submit != "" {
				if err := humanClick(stepCtx, submit); err != nil {
					return nil, fmt.Errorf("submit password: %w", err)
				}
			}
		}
	}

	deadline := time.Now().Add(p.cfg.StepTimeout)
	for time.Now().Before(deadline) {
		loggedIn, err := p.isLoggedIn(stepCtx)
		if err != nil {
			return nil, err
		}
		if loggedIn {
			return p.captureAndClose(stepCtx, s.cancel)
		}
		if err := chromedp.Run(stepCtx, chromedp.Sleep(500*time.Millisecond)); err != nil {
			return nil, err
		}
	}
	return nil, ErrLoginFailed
}

func (p *Portal) newBrowser() (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 768),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		browserCancel()
		allocCancel()
	}
	return browserCtx, cancel
}

func (p *Portal) isLoggedIn(ctx context.Context) (bool, error) {
	var loc string
	if err := chromedp.Run(ctx, chromedp.Location(&loc)); err != nil {
		return false, fmt.Errorf("read location: %w", err)
	}
	return loc != "" && !strings.Contains(loc, "/login"), nil
}

func (p *Portal) waitOutcome(ctx context.Context) (Outcome, error) {
	deadline := time.Now().Add(p.cfg.StepTimeout)
	for time.Now().Before(deadline) {
		if sel := firstPresent(ctx, smsSelectors); sel != "" {
			return OutcomeSMSRequired, nil
		}
		if sel := firstPresent(ctx, passwordSelectors); sel != "" {
			return OutcomePasswordRequired, nil
		}
		loggedIn, err := p.isLoggedIn(ctx)
		if err != nil {
			return "", err
		}
		if loggedIn {
			return OutcomeLoggedIn, nil
		}
		if err := chromedp.Run(ctx, chromedp.Sleep(500*time.Millisecond)); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: no challenge appeared", ErrLoginFailed)
}

func (p *Portal) captureAndClose(ctx context.Context, cancel context.CancelFunc) ([]heetch.Cookie, error) {
	var out []heetch.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cks, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, ck := range cks {
			out = append(out, heetch.Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Expires:  ck.Expires,
				HTTPOnly: ck.HTTPOnly,
				Secure:   ck.Secure,
			})
		}
		return nil
	}))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("capture cookies: %w", err)
	}
	return out, nil
}

func setCookies(cookies []heetch.Cookie) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		params := make([]*network.CookieParam, 0, len(cookies))
		for _, ck := range cookies {
			param := &network.CookieParam{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				HTTPOnly: ck.HTTPOnly,
				Secure:   ck.Secure,
			}
			if ck.Expires > 0 {
				exp := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
				param.Expires = &exp
			}
			params = append(params, param)
		}
		return storage.SetCookies(params).Do(ctx)
	}
}

// typeSlow clicks the field and types one rune at a time with human
// pacing instead of setting the value in one write.
func typeSlow(sel, text string) chromedp.Tasks {
	tasks := chromedp.Tasks{chromedp.Click(sel, chromedp.ByQuery)}
	for _, r := range text {
		tasks = append(tasks,
			chromedp.SendKeys(sel, string(r), chromedp.ByQuery),
			chromedp.Sleep(time.Duration(40+rand.Intn(90))*time.Millisecond),
		)
	}
	return tasks
}

// humanClick moves the pointer to the element along an eased, jittered
// path before pressing, the way a hand on a mouse would.
func humanClick(ctx context.Context, sel string) error {
	var rect struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		W float64 `json:"w"`
		H float64 `json:"h"`
	}
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return {x: 0, y: 0, w: 0, h: 0};
		const r = el.getBoundingClientRect();
		return {x: r.x, y: r.y, w: r.width, h: r.height};
	})()`, sel)
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &rect)); err != nil {
		return err
	}
	if rect.W == 0 && rect.H == 0 {
		return fmt.Errorf("element %q not found", sel)
	}
	toX := rect.X + rect.W/2 + (rand.Float64()-0.5)*rect.W/4
	toY := rect.Y + rect.H/2 + (rand.Float64()-0.5)*rect.H/4

	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		fromX := 80 + rand.Float64()*160
		fromY := 60 + rand.Float64()*120
		steps := 18 + rand.Intn(10)
		for i := 1; i <= steps; i++ {
			t := float64(i) / float64(steps)
			ease := t * t * (3 - 2*t)
			x := fromX + (toX-fromX)*ease + (rand.Float64()-0.5)*3
			y := fromY + (toY-fromY)*ease + (rand.Float64()-0.5)*3
			if err := input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx); err != nil {
				return err
			}
			time.Sleep(time.Duration(8+rand.Intn(18)) * time.Millisecond)
		}
		press := input.DispatchMouseEvent(input.MousePressed, toX, toY).
			WithButton(input.Left).WithClickCount(1)
		if err := press.Do(ctx); err != nil {
			return err
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
		release := input.DispatchMouseEvent(input.MouseReleased, toX, toY).
			WithButton(input.Left).WithClickCount(1)
		return release.Do(ctx)
	}))
}

// firstPresent returns the first selector that currently matches, or
// empty when none do.
func firstPresent(ctx context.Context, selectors []string) string {
	for _, sel := range selectors {
		var found bool
		expr := fmt.Sprintf(`!!document.querySelector(%q)`, sel)
		if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &found)); err != nil {
			return ""
		}
		if found {
			return sel
		}
	}
	return ""
}

// waitAny polls until one of the selectors appears.
func waitAny(ctx context.Context, selectors []string) (string, error) {
	for {
		if sel := firstPresent(ctx, selectors); sel != "" {
			return sel, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}
