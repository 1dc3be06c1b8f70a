package auth

import (
	"context"
	"fmt"

	"checkind-backend/lib/providers"
	"checkind-backend/lib/scrapers/discourse"
	"checkind-backend/lib/scrapers/newapi"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("auth")

// CookieReplay replays previously captured session cookies and checks
// them against the provider's user-info endpoint. An expired or
// rejected cookie is fatal: replaying the same material again cannot
// produce a different answer.
type CookieReplay struct{}

func (CookieReplay) Method() providers.AuthMethod {
	return providers.AuthCookie
}

func (CookieReplay) Authenticate(ctx context.Context, account Account, provider providers.Provider) (*Session, error) {
	ctx, span := tracer.Start(ctx, "CookieReplay:Authenticate")
	defer span.End()

	if !account.HasCookies() {
		return nil, ErrNoCredentials
	}

	switch provider.Kind {
	case providers.KindDiscourse:
		client, err := discourse.NewClient(provider)
		if err != nil {
			return nil, err
		}
		client.SetCookies(account.Cookies)
		username, err := client.VerifySession(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "forum cookie validation failed")
			return nil, fmt.Errorf("%w: %s", ErrCredentialsInvalid, err)
		}
		return &Session{
			Method:   providers.AuthCookie,
			Cookies:  account.Cookies,
			Username: username,
		}, nil

	case providers.KindNewApi:
		sessionToken, extra, err := splitSessionCookies(account.Cookies)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCredentialsInvalid, err)
		}

		client, err := newapi.NewClient(provider)
		if err != nil {
			return nil, err
		}
		client.SetSession(sessionToken, extra)
		if account.ApiUser != "" {
			client.SetApiUser(account.ApiUser)
		}

		info, err := client.GetSelf(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "session cookie validation failed")
			return nil, err
		}

		cookies := map[string]string{"session": sessionToken}
		for name, value := range extra {
			cookies[name] = value
		}
		return &Session{
			Method:   providers.AuthCookie,
			Cookies:  cookies,
			Username: info.Username,
		}, nil
	}

	return nil, fmt.Errorf("provider kind %q does not support cookie replay", provider.Kind)
}

// splitSessionCookies separates the session token from companion
// cookies (WAF tokens etc). The "session" entry may itself be a pasted
// cookie string in one of the shapes ParseSessionCookie accepts.
func splitSessionCookies(cookies map[string]string) (string, map[string]string, error) {
	raw, ok := cookies["session"]
	sessionKey := "session"
	if !ok && len(cookies) == 1 {
		// single entry under another name, treat its value as the
		// raw material
		for k, v := range cookies {
			sessionKey, raw = k, v
		}
	}

	token, err := newapi.ParseSessionCookie(raw)
	if err != nil {
		return "", nil, err
	}

	extra := map[string]string{}
	for name, value := range cookies {
		if name != sessionKey {
			extra[name] = value
		}
	}
	return token, extra, nil
}
