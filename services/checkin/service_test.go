package checkin

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"checkind-backend/lib/auth"
	"checkind-backend/lib/providers"
	"checkind-backend/lib/retryutil"

	"github.com/stretchr/testify/require"
)

type fakeStrategy struct {
	method providers.AuthMethod
	fn     func(ctx context.Context, account auth.Account) (*auth.Session, error)
}

func (s fakeStrategy) Method() providers.AuthMethod {
	return s.method
}

func (s fakeStrategy) Authenticate(ctx context.Context, account auth.Account, provider providers.Provider) (*auth.Session, error) {
	return s.fn(ctx, account)
}

func fastRetry() retryutil.Policy {
	return retryutil.Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond * 5,
	}
}

func okSession(method providers.AuthMethod) *auth.Session {
	return &auth.Session{
		Method:   method,
		Cookies:  map[string]string{"_t": "cookie"},
		Username: "alice",
	}
}

// testService wires fake auth strategies into an otherwise real
// orchestrator. Accounts use the forum provider with browsing off, so
// the adapter succeeds without any network.
func testService(opts Options, strategies map[providers.AuthMethod]auth.Strategy) *Service {
	opts.Retry = fastRetry()
	return &Service{
		registry:   providers.NewRegistry(),
		strategies: strategies,
		opts:       opts.withDefaults(),
	}
}

func forumAccount(name string) auth.Account {
	return auth.Account{
		Name:     name,
		Provider: "linuxdo",
		Cookies:  map[string]string{"_t": "cookie"},
		Options:  auth.Options{},
	}
}

func TestFailureIsolation(t *testing.T) {
	strategies := map[providers.AuthMethod]auth.Strategy{
		providers.AuthCookie: fakeStrategy{providers.AuthCookie,
			func(ctx context.Context, account auth.Account) (*auth.Session, error) {
				if account.Name == "broken" {
					return nil, fmt.Errorf("%w: cookie expired", auth.ErrCredentialsInvalid)
				}
				return okSession(providers.AuthCookie), nil
			}},
	}
	service := testService(Options{}, strategies)

	accounts := []auth.Account{
		forumAccount("first"),
		forumAccount("broken"),
		{Name: "ghost", Provider: "no-such-site", Cookies: map[string]string{"session": "x"}},
		forumAccount("last"),
	}
	report := service.Run(context.Background(), accounts)

	require.Len(t, report.Outcomes, 4)
	require.Equal(t, StatusSuccess, report.Outcomes[0].Status)
	require.Equal(t, StatusFailed, report.Outcomes[1].Status)
	require.Contains(t, report.Outcomes[1].Detail, "cookie expired")
	require.Equal(t, StatusFailed, report.Outcomes[2].Status)
	require.Contains(t, report.Outcomes[2].Detail, "no-such-site")
	require.Equal(t, StatusSuccess, report.Outcomes[3].Status)

	counts := report.Counts()
	require.Equal(t, Counts{Success: 2, Failed: 2}, counts)
}

func TestAuthFallbackOrder(t *testing.T) {
	credentialCalls := 0
	strategies := map[providers.AuthMethod]auth.Strategy{
		providers.AuthCredentials: fakeStrategy{providers.AuthCredentials,
			func(ctx context.Context, account auth.Account) (*auth.Session, error) {
				credentialCalls++
				return nil, errors.New("browser crashed")
			}},
		providers.AuthCookie: fakeStrategy{providers.AuthCookie,
			func(ctx context.Context, account auth.Account) (*auth.Session, error) {
				return okSession(providers.AuthCookie), nil
			}},
	}
	service := testService(Options{}, strategies)

	account := forumAccount("alice")
	account.Username = "alice"
	account.Password = "hunter2"

	report := service.Run(context.Background(), []auth.Account{account})
	require.Len(t, report.Outcomes, 1)

	out := report.Outcomes[0]
	require.Equal(t, StatusSuccess, out.Status)
	require.Equal(t, providers.AuthCookie, out.AuthMethod)
	// credentials strategy burned its whole retry budget before the
	// cookie fallback ran
	require.Equal(t, 2, credentialCalls)
	require.Equal(t, 3, out.Attempts)
}

func TestFallbackAfterFatalStrategy(t *testing.T) {
	credentialCalls := 0
	strategies := map[providers.AuthMethod]auth.Strategy{
		providers.AuthCredentials: fakeStrategy{providers.AuthCredentials,
			func(ctx context.Context, account auth.Account) (*auth.Session, error) {
				credentialCalls++
				return nil, fmt.Errorf("%w: bad password", auth.ErrCredentialsInvalid)
			}},
		providers.AuthCookie: fakeStrategy{providers.AuthCookie,
			func(ctx context.Context, account auth.Account) (*auth.Session, error) {
				return okSession(providers.AuthCookie), nil
			}},
	}
	service := testService(Options{}, strategies)

	account := forumAccount("alice")
	account.Username = "alice"
	account.Password = "wrong"

	report := service.Run(context.Background(), []auth.Account{account})
	out := report.Outcomes[0]
	require.Equal(t, StatusSuccess, out.Status)
	require.Equal(t, providers.AuthCookie, out.AuthMethod)
	// fatal rejection consumed a single attempt before the fallback
	require.Equal(t, 1, credentialCalls)
	require.Equal(t, 2, out.Attempts)
}

func TestFatalAuthErrorSkipsRetries(t *testing.T) {
	calls := 0
	strategies := map[providers.AuthMethod]auth.Strategy{
		providers.AuthCookie: fakeStrategy{providers.AuthCookie,
			func(ctx context.Context, account auth.Account) (*auth.Session, error) {
				calls++
				return nil, fmt.Errorf("%w: rejected", auth.ErrCredentialsInvalid)
			}},
	}
	service := testService(Options{}, strategies)

	report := service.Run(context.Background(), []auth.Account{forumAccount("alice")})
	require.Equal(t, StatusFailed, report.Outcomes[0].Status)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, report.Outcomes[0].Attempts)
}

func TestReportKeepsConfigurationOrder(t *testing.T) {
	// earlier accounts take longer, so completion order is reversed
	delays := map[string]time.Duration{
		"a": time.Millisecond * 40,
		"b": time.Millisecond * 20,
		"c": 0,
	}
	strategies := map[providers.AuthMethod]auth.Strategy{
		providers.AuthCookie: fakeStrategy{providers.AuthCookie,
			func(ctx context.Context, account auth.Account) (*auth.Session, error) {
				time.Sleep(delays[account.Name])
				return okSession(providers.AuthCookie), nil
			}},
	}
	service := testService(Options{Concurrency: 3}, strategies)

	accounts := []auth.Account{forumAccount("a"), forumAccount("b"), forumAccount("c")}
	report := service.Run(context.Background(), accounts)

	require.Len(t, report.Outcomes, 3)
	for i, account := range accounts {
		require.Equal(t, account.Name, report.Outcomes[i].Account)
		require.Equal(t, StatusSuccess, report.Outcomes[i].Status)
	}
}

func TestPlatformFilter(t *testing.T) {
	strategies := map[providers.AuthMethod]auth.Strategy{
		providers.AuthCookie: fakeStrategy{providers.AuthCookie,
			func(ctx context.Context, account auth.Account) (*auth.Session, error) {
				return okSession(providers.AuthCookie), nil
			}},
	}
	service := testService(Options{Platform: "linuxdo"}, strategies)

	accounts := []auth.Account{
		forumAccount("keep"),
		{Name: "drop", Provider: "wong", Cookies: map[string]string{"session": "x"}},
	}
	report := service.Run(context.Background(), accounts)

	require.Len(t, report.Outcomes, 1)
	require.Equal(t, "keep", report.Outcomes[0].Account)
}

func TestRunTimeoutRecordsRemainingAccounts(t *testing.T) {
	strategies := map[providers.AuthMethod]auth.Strategy{
		providers.AuthCookie: fakeStrategy{providers.AuthCookie,
			func(ctx context.Context, account auth.Account) (*auth.Session, error) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Second * 10):
					return okSession(providers.AuthCookie), nil
				}
			}},
	}
	service := testService(Options{
		Concurrency: 1,
		RunTimeout:  time.Millisecond * 50,
	}, strategies)

	accounts := []auth.Account{forumAccount("slow"), forumAccount("pending")}

	start := time.Now()
	report := service.Run(context.Background(), accounts)
	require.Less(t, time.Since(start), time.Second*5)

	require.Len(t, report.Outcomes, 2)
	require.Equal(t, StatusFailed, report.Outcomes[0].Status)
	require.Contains(t, report.Outcomes[0].Detail, "timed out")
	require.Equal(t, StatusSkipped, report.Outcomes[1].Status)
}

func TestBotChallengeExhaustionAsksForManualIntervention(t *testing.T) {
	strategies := map[providers.AuthMethod]auth.Strategy{
		providers.AuthCookie: fakeStrategy{providers.AuthCookie,
			func(ctx context.Context, account auth.Account) (*auth.Session, error) {
				return nil, fmt.Errorf("%w: challenge page", auth.ErrBotChallenge)
			}},
	}
	service := testService(Options{}, strategies)

	report := service.Run(context.Background(), []auth.Account{forumAccount("alice")})
	out := report.Outcomes[0]
	require.Equal(t, StatusFailed, out.Status)
	require.Contains(t, out.Detail, "manual intervention")
	require.Equal(t, 2, out.Attempts)
}

func TestNewServiceWithBuiltinRegistry(t *testing.T) {
	_, err := NewService(providers.NewRegistry(), nil, Options{})
	require.NoError(t, err)
}
