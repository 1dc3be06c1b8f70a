package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"checkind-backend/lib/auth"
	"checkind-backend/lib/browser"
	"checkind-backend/lib/providers"
	"checkind-backend/lib/retryutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/checkin")

const forumProviderId = "linuxdo"

type Options struct {
	// Concurrency bounds the worker pool. Keep it small: the accounts
	// share outbound network and the providers are rate sensitive.
	Concurrency int
	// RunTimeout bounds the whole batch; accounts still pending when
	// it fires are recorded as timed out, never dropped.
	RunTimeout time.Duration
	// Platform restricts the run to accounts of one provider id.
	Platform string
	Retry    retryutil.Policy
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	return o
}

// Service orchestrates one batch run: per account it selects the auth
// strategy by the provider's declared priority, retries transient
// failures, dispatches to the provider adapter, and collects outcomes
// with full failure isolation between accounts.
type Service struct {
	registry   *providers.Registry
	strategies map[providers.AuthMethod]auth.Strategy
	opts       Options
}

func NewService(registry *providers.Registry, sessions browser.Factory, opts Options) (*Service, error) {
	forum, err := registry.Lookup(forumProviderId)
	if err != nil {
		return nil, fmt.Errorf("registry is missing the forum identity provider: %w", err)
	}

	return &Service{
		registry: registry,
		strategies: map[providers.AuthMethod]auth.Strategy{
			providers.AuthCookie:      auth.CookieReplay{},
			providers.AuthOAuth:       auth.OAuthIdentity{Sessions: sessions, Forum: forum},
			providers.AuthCredentials: auth.CredentialedBrowser{Sessions: sessions},
		},
		opts: opts.withDefaults(),
	}, nil
}

// Run processes every account and always returns a complete report:
// per-account failures become Failed outcomes, they never abort the
// batch and never escape as errors.
func (s *Service) Run(ctx context.Context, accounts []auth.Account) *Report {
	ctx, span := tracer.Start(ctx, "Service:Run")
	defer span.End()

	if s.opts.Platform != "" {
		filtered := accounts[:0:0]
		for _, a := range accounts {
			if a.Provider == s.opts.Platform {
				filtered = append(filtered, a)
			}
		}
		accounts = filtered
	}

	report := &Report{
		StartedAt: time.Now(),
		Outcomes:  make([]Outcome, len(accounts)),
	}

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if s.opts.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
	}
	defer cancel()

	concurrency := s.opts.Concurrency
	if concurrency > len(accounts) {
		concurrency = len(accounts)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				// each worker writes only its own index, so the
				// outcome slice needs no locking
				report.Outcomes[idx] = s.processAccount(runCtx, accounts[idx])
			}
		}()
	}
	for idx := range accounts {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	report.FinishedAt = time.Now()

	counts := report.Counts()
	slog.InfoContext(ctx, "run finished",
		"accounts", len(accounts),
		"success", counts.Success,
		"failed", counts.Failed,
		"skipped", counts.Skipped,
		"elapsed", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))

	return report
}

func (s *Service) processAccount(ctx context.Context, account auth.Account) Outcome {
	ctx, span := tracer.Start(ctx, "Service:processAccount")
	defer span.End()

	if err := ctx.Err(); err != nil {
		// the run deadline fired before this account started
		return s.outcome(account, StatusSkipped, "not attempted: run timed out")
	}

	slog.InfoContext(ctx, "processing account",
		"account", account.Name, "provider", account.Provider)

	provider, err := s.registry.Lookup(account.Provider)
	if err != nil {
		span.SetStatus(codes.Error, "unknown provider")
		return s.outcome(account, StatusFailed, err.Error())
	}
	if !account.Usable(provider) {
		span.SetStatus(codes.Error, "no usable credentials")
		return s.outcome(account, StatusFailed,
			fmt.Sprintf("no credentials usable with provider %q (supports %v)",
				provider.Id, provider.AuthPriority))
	}

	session, attempts, err := s.authenticate(ctx, account, provider)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication failed")
		out := s.outcome(account, StatusFailed, authFailureDetail(err))
		out.Attempts = attempts
		if errors.Is(err, context.DeadlineExceeded) {
			out.Detail = "timed out during authentication"
		}
		return out
	}

	adapter, err := adapterFor(provider)
	if err != nil {
		return s.outcome(account, StatusFailed, err.Error())
	}

	out := adapter.Perform(ctx, session, account)
	out.Attempts = attempts
	if ctx.Err() != nil && out.Status == StatusFailed {
		out.Detail = "timed out mid-action: " + out.Detail
	}
	return out
}

// authenticate walks the provider's strategy priority order, wrapping
// each candidate in the retry policy. The first strategy to produce a
// session wins; candidates the account has no material for are skipped
// without consuming attempts.
func (s *Service) authenticate(ctx context.Context, account auth.Account, provider providers.Provider) (*auth.Session, int, error) {
	totalAttempts := 0
	var lastErr error

	for _, method := range provider.AuthPriority {
		strategy, ok := s.strategies[method]
		if !ok {
			continue
		}
		if !hasMaterialFor(account, method) {
			continue
		}

		session, attempts, err := retryutil.Do(ctx, s.opts.Retry, auth.Classify,
			fmt.Sprintf("auth/%s", method),
			func(ctx context.Context) (*auth.Session, error) {
				return strategy.Authenticate(ctx, account, provider)
			})
		totalAttempts += attempts
		if err == nil {
			slog.InfoContext(ctx, "authenticated",
				"account", account.Name, "method", method, "attempts", attempts)
			return session, totalAttempts, nil
		}

		lastErr = err
		slog.WarnContext(ctx, "auth strategy failed, falling back",
			"account", account.Name, "method", method, "err", err)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, totalAttempts, err
		}
	}

	if lastErr == nil {
		lastErr = auth.ErrNoCredentials
	}
	return nil, totalAttempts, lastErr
}

func hasMaterialFor(account auth.Account, method providers.AuthMethod) bool {
	switch method {
	case providers.AuthCookie:
		return account.HasCookies()
	case providers.AuthOAuth, providers.AuthCredentials:
		return account.HasPassword()
	}
	return false
}

// authFailureDetail folds the retry wrapper into the human-readable
// detail, surfacing the structured manual-intervention signal when a
// bot challenge never cleared.
func authFailureDetail(err error) string {
	var exhausted *retryutil.ExhaustedError
	if errors.As(err, &exhausted) && errors.Is(err, auth.ErrBotChallenge) {
		return fmt.Sprintf("%s: bot challenge did not clear after %d attempts",
			auth.ErrManualIntervention, exhausted.Attempts)
	}
	return err.Error()
}
