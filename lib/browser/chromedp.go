package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"

type ChromedpFactory struct {
	Env       RuntimeEnvironment
	UserAgent string
}

func NewChromedpFactory(env RuntimeEnvironment) ChromedpFactory {
	return ChromedpFactory{Env: env, UserAgent: defaultUserAgent}
}

func (f ChromedpFactory) NewSession(ctx context.Context) (Session, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.Env.Headless()),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", f.Env.IsCI),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(f.UserAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	err := chromedp.Run(browserCtx, chromedp.Navigate("about:blank"))
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("browser failed startup: %w", err)
	}

	return &chromedpSession{
		ctx:    browserCtx,
		cancel: func() { browserCancel(); allocCancel() },
	}, nil
}

type chromedpSession struct {
	ctx    context.Context
	cancel func()
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	run, cancel := s.bind(ctx)
	defer cancel()
	return chromedp.Run(run, chromedp.Navigate(url))
}

func (s *chromedpSession) EvaluateScript(ctx context.Context, js string) (string, error) {
	run, cancel := s.bind(ctx)
	defer cancel()

	var raw json.RawMessage
	err := chromedp.Run(run, chromedp.Evaluate(js, &raw,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
	if err != nil {
		return "", err
	}

	var str string
	if json.Unmarshal(raw, &str) == nil {
		return str, nil
	}
	return string(raw), nil
}

func (s *chromedpSession) GetCookies(ctx context.Context, domain string) (map[string]string, error) {
	run, cancel := s.bind(ctx)
	defer cancel()

	out := map[string]string{}
	err := chromedp.Run(run, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			if domain == "" || strings.Contains(c.Domain, domain) {
				out[c.Name] = c.Value
			}
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Request issues the call from inside the page via fetch so it carries
// the page's cookies and passes origin checks, the same way the
// upstream sites expect their own frontend to call them.
func (s *chromedpSession) Request(ctx context.Context, method, rawUrl string, headers http.Header, body []byte) (Response, error) {
	if _, err := url.Parse(rawUrl); err != nil {
		return Response{}, err
	}

	headerPairs := map[string]string{}
	for k, vs := range headers {
		if len(vs) > 0 {
			headerPairs[k] = vs[0]
		}
	}
	headerJson, err := json.Marshal(headerPairs)
	if err != nil {
		return Response{}, err
	}

	bodyExpr := "undefined"
	if len(body) > 0 {
		// base64 round-trip avoids escaping issues in the inline script
		bodyExpr = fmt.Sprintf("atob(%q)", base64.StdEncoding.EncodeToString(body))
	}

	js := fmt.Sprintf(`
		(async () => {
			const res = await fetch(%q, {
				method: %q,
				headers: %s,
				body: %s,
				credentials: "include",
			});
			const text = await res.text();
			return JSON.stringify({ status: res.status, body: text });
		})()
	`, rawUrl, method, headerJson, bodyExpr)

	raw, err := s.EvaluateScript(ctx, js)
	if err != nil {
		return Response{}, err
	}

	var parsed struct {
		Status int    `json:"status"`
		Body   string `json:"body"`
	}
	err = json.Unmarshal([]byte(raw), &parsed)
	if err != nil {
		return Response{}, fmt.Errorf("unexpected fetch result: %w", err)
	}

	return Response{Status: parsed.Status, Body: []byte(parsed.Body)}, nil
}

// bind derives a context that lives in the browser's tree but carries
// the caller's deadline and observes its cancellation.
func (s *chromedpSession) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	var run context.Context
	var cancel context.CancelFunc
	if deadline, ok := ctx.Deadline(); ok {
		run, cancel = context.WithDeadline(s.ctx, deadline)
	} else {
		run, cancel = context.WithCancel(s.ctx)
	}

	stop := context.AfterFunc(ctx, cancel)
	return run, func() {
		stop()
		cancel()
	}
}

func (s *chromedpSession) Close() error {
	s.cancel()
	return nil
}
