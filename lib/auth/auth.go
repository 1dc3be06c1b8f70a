package auth

import (
	"context"
	"errors"
	"strconv"

	"checkind-backend/lib/providers"
	"checkind-backend/lib/retryutil"
	"checkind-backend/lib/scrapers/newapi"
)

var (
	// ErrCredentialsInvalid means the provider explicitly rejected
	// the credential material; retrying the same input cannot help.
	ErrCredentialsInvalid = errors.New("credentials rejected by provider")
	// ErrBotChallenge means an anti-bot interstitial blocked the
	// flow. Worth retrying a bounded number of times.
	ErrBotChallenge = errors.New("blocked by bot challenge")
	// ErrManualIntervention is the terminal form of ErrBotChallenge:
	// the challenge did not clear within the retry budget and a human
	// needs to refresh the stored credentials.
	ErrManualIntervention = errors.New("manual intervention needed")
	// ErrNoCredentials means the account carries no credential form
	// usable by the strategy.
	ErrNoCredentials = errors.New("no usable credentials for strategy")
)

// Options carries provider-specific account flags. Known flags have
// accessors; unknown configuration fields are preserved here untouched.
type Options map[string]any

func (o Options) Bool(key string) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	return false
}

func (o Options) Int(key string, fallback int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}

// Account is one set of credentials for one provider, resolved from
// configuration once per run and immutable afterwards.
type Account struct {
	// Name is the human label used in logs and the run report.
	Name     string
	Provider string
	// Username/Password are forum-identity credentials: site-local
	// for the forum itself, OAuth identity for the balance sites.
	Username string
	Password string
	// Cookies is previously captured session material keyed by
	// cookie name.
	Cookies map[string]string
	ApiUser string
	Options Options
}

func (a Account) HasPassword() bool {
	return a.Username != "" && a.Password != ""
}

func (a Account) HasCookies() bool {
	return len(a.Cookies) > 0
}

// Usable reports whether the account carries at least one credential
// form matching the provider's supported strategies.
func (a Account) Usable(p providers.Provider) bool {
	for _, m := range p.AuthPriority {
		switch m {
		case providers.AuthCookie:
			if a.HasCookies() {
				return true
			}
		case providers.AuthOAuth, providers.AuthCredentials:
			if a.HasPassword() {
				return true
			}
		}
	}
	return false
}

// Session is the transport-level authenticated state a strategy hands
// to a provider adapter: cookies scoped to the provider's domain.
type Session struct {
	Method providers.AuthMethod
	// Cookies holds at least the provider's session cookie, plus any
	// WAF cookies that must travel with it.
	Cookies map[string]string
	// Username is the verified identity, when the validation endpoint
	// reports one.
	Username string
}

// Strategy establishes an authenticated session for one account
// against one provider. Implementations are stateless and safe to use
// concurrently across accounts.
type Strategy interface {
	Method() providers.AuthMethod
	Authenticate(ctx context.Context, account Account, provider providers.Provider) (*Session, error)
}

// Classify maps authentication errors onto the retry taxonomy:
// explicit rejections are fatal, anything transient is retryable.
func Classify(err error) retryutil.Classification {
	if errors.Is(err, ErrCredentialsInvalid) ||
		errors.Is(err, ErrNoCredentials) ||
		errors.Is(err, ErrManualIntervention) ||
		errors.Is(err, newapi.ErrSessionInvalid) {
		return retryutil.Fatal
	}
	return retryutil.Retryable
}
