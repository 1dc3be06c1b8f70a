package checkin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"checkind-backend/lib/auth"
	"checkind-backend/lib/providers"
	"checkind-backend/lib/scrapers/discourse"
	"checkind-backend/lib/scrapers/newapi"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/codes"
)

// Adapter executes the provider-specific action sequence for an
// already-authenticated account and produces its final Outcome.
type Adapter interface {
	Perform(ctx context.Context, session *auth.Session, account auth.Account) Outcome
}

func adapterFor(provider providers.Provider) (Adapter, error) {
	switch {
	case provider.Kind == providers.KindDiscourse:
		return discourseAdapter{provider: provider}, nil
	case provider.Id == anyRouterProvider:
		return anyRouterAdapter{newApiAdapter{provider: provider}}, nil
	case provider.Kind == providers.KindNewApi:
		return newApiAdapter{provider: provider}, nil
	}
	return nil, fmt.Errorf("provider %q has no adapter for kind %q", provider.Id, provider.Kind)
}

func (s *Service) outcome(account auth.Account, status Status, detail string) Outcome {
	return Outcome{
		Account:  account.Name,
		Provider: account.Provider,
		Status:   status,
		Detail:   detail,
		Time:     time.Now(),
	}
}

// newApiAdapter signs in on a new-api balance site and reads the
// resulting balance. A "signed in already today" response is a
// success; the action is idempotent within the provider's cooldown.
type newApiAdapter struct {
	provider providers.Provider
}

func (a newApiAdapter) Perform(ctx context.Context, session *auth.Session, account auth.Account) Outcome {
	ctx, span := tracer.Start(ctx, "newApiAdapter:Perform")
	defer span.End()

	out := Outcome{
		Account:    account.Name,
		Provider:   account.Provider,
		AuthMethod: session.Method,
		Time:       time.Now(),
	}

	client, err := newapi.NewClient(a.provider)
	if err != nil {
		out.Status = StatusFailed
		out.Detail = err.Error()
		return out
	}
	token := session.Cookies["session"]
	extra := map[string]string{}
	for name, value := range session.Cookies {
		if name != "session" {
			extra[name] = value
		}
	}
	client.SetSession(token, extra)
	if account.ApiUser != "" {
		client.SetApiUser(account.ApiUser)
	}

	result, err := client.SignIn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sign-in failed")
		out.Status = StatusFailed
		out.Detail = err.Error()
		return out
	}

	detail := result.Message
	info, err := client.GetSelf(ctx)
	if err == nil {
		detail = fmt.Sprintf("%s (balance %s%.2f, used %s%.2f)",
			result.Message,
			a.provider.CurrencyUnit, info.Quota,
			a.provider.CurrencyUnit, info.UsedQuota)
	} else {
		slog.WarnContext(ctx, "signed in but balance read failed",
			"account", account.Name, "err", err)
	}

	out.Status = StatusSuccess
	out.Detail = detail
	return out
}

// anyRouterAdapter is the cookie-only variant: same endpoints, but the
// session must carry the provider's WAF cookies alongside the session
// token or the edge rejects the request.
type anyRouterAdapter struct {
	newApiAdapter
}

func (a anyRouterAdapter) Perform(ctx context.Context, session *auth.Session, account auth.Account) Outcome {
	for _, name := range a.provider.WafCookieNames {
		if _, ok := session.Cookies[name]; !ok {
			slog.DebugContext(ctx, "waf cookie missing, the edge may reject the request",
				"account", account.Name, "cookie", name)
		}
	}
	return a.newApiAdapter.Perform(ctx, session, account)
}

const (
	defaultBrowseCount = 10
	// roughly one in three browsed topics gets a like
	likePercent = 30
)

// discourseAdapter records forum activity. Authentication already
// proved the session works; the optional browse sequence is
// best-effort on top, a browse failure degrades the detail but never
// fails the outcome.
type discourseAdapter struct {
	provider providers.Provider
}

func (a discourseAdapter) Perform(ctx context.Context, session *auth.Session, account auth.Account) Outcome {
	ctx, span := tracer.Start(ctx, "discourseAdapter:Perform")
	defer span.End()

	out := Outcome{
		Account:    account.Name,
		Provider:   account.Provider,
		AuthMethod: session.Method,
		Time:       time.Now(),
		Status:     StatusSuccess,
		Detail:     fmt.Sprintf("signed in as %s", session.Username),
	}

	if !account.Options.Bool("browse_enabled") {
		return out
	}
	browseCount := account.Options.Int("browse_count", defaultBrowseCount)

	client, err := discourse.NewClient(a.provider)
	if err != nil {
		out.Detail = "signed in, browse incomplete: " + err.Error()
		return out
	}
	client.SetCookies(session.Cookies)
	_, err = client.VerifySession(ctx)
	if err != nil {
		span.RecordError(err)
		out.Detail = "signed in, browse incomplete: " + err.Error()
		return out
	}

	browsed, total, err := a.browse(ctx, client, account, browseCount)
	switch {
	case browsed == 0 && err != nil:
		span.SetStatus(codes.Error, "browse produced nothing")
		out.Detail = "signed in, browse incomplete: " + err.Error()
	case err != nil:
		out.Detail = fmt.Sprintf("signed in, browsed %d/%d topics (read %s, some failed)",
			browsed, browseCount, total.Round(time.Second))
	default:
		out.Detail = fmt.Sprintf("signed in, browsed %d topics (read %s)",
			browsed, total.Round(time.Second))
	}
	return out
}

func (a discourseAdapter) browse(ctx context.Context, client *discourse.Client, account auth.Account, count int) (int, time.Duration, error) {
	topics, err := client.Latest(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(topics) == 0 {
		return 0, 0, fmt.Errorf("no topics available to browse")
	}
	if count > len(topics) {
		count = len(topics)
	}

	picked := sampleTopics(topics, count)

	var browsed int
	var total time.Duration
	var lastErr error
	for i, topic := range picked {
		if ctx.Err() != nil {
			return browsed, total, ctx.Err()
		}

		slog.InfoContext(ctx, "browsing topic",
			"account", account.Name,
			"topic", topic.Id,
			"n", i+1,
			"of", len(picked))

		readTime, err := client.ReadTopic(ctx, topic.Id)
		if err != nil {
			slog.WarnContext(ctx, "failed to browse topic",
				"account", account.Name, "topic", topic.Id, "err", err)
			lastErr = err
			continue
		}
		browsed++
		total += readTime

		if roll, err := random.IntRange(0, 100); err == nil && roll < likePercent {
			err = client.LikeFirstPost(ctx, topic.Id)
			if err != nil {
				slog.DebugContext(ctx, "like failed",
					"account", account.Name, "topic", topic.Id, "err", err)
			}
		}

		// pause between topics like a human reader would
		if delayMs, err := random.IntRange(3000, 8000); err == nil {
			sleepCtx(ctx, time.Duration(delayMs)*time.Millisecond)
		}
	}

	return browsed, total, lastErr
}

func sampleTopics(topics []discourse.Topic, count int) []discourse.Topic {
	shuffled := make([]discourse.Topic, len(topics))
	copy(shuffled, topics)
	for i := len(shuffled) - 1; i > 0; i-- {
		j, err := random.IntRange(0, i+1)
		if err != nil {
			continue
		}
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:count]
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
