package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"checkind-backend/lib/browser"
	"checkind-backend/lib/providers"
	"checkind-backend/lib/scrapers/discourse"

	"go.opentelemetry.io/otel/codes"
)

// CredentialedBrowser performs a site-local username/password login in
// a browser. Only the forum uses this: it is its own identity
// provider, so there is nothing to federate through.
type CredentialedBrowser struct {
	Sessions browser.Factory
}

func (CredentialedBrowser) Method() providers.AuthMethod {
	return providers.AuthCredentials
}

func (c CredentialedBrowser) Authenticate(ctx context.Context, account Account, provider providers.Provider) (*Session, error) {
	ctx, span := tracer.Start(ctx, "CredentialedBrowser:Authenticate")
	defer span.End()

	if !account.HasPassword() {
		return nil, ErrNoCredentials
	}

	host, err := hostOf(provider.Domain)
	if err != nil {
		return nil, err
	}

	sess, err := c.Sessions.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	defer sess.Close()

	err = sess.Navigate(ctx, provider.Domain+"/login")
	if err != nil {
		return nil, err
	}
	err = waitForChallenge(ctx, sess, time.Second*30)
	if err != nil {
		span.SetStatus(codes.Error, "challenge on login page")
		return nil, err
	}
	sleep(ctx, time.Second*2)

	err = fillField(ctx, sess, "#login-account-name", account.Username)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBotChallenge, err)
	}
	sleep(ctx, time.Millisecond*500)
	err = fillField(ctx, sess, "#login-account-password", account.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBotChallenge, err)
	}
	sleep(ctx, time.Millisecond*500)

	err = clickElement(ctx, sess, "#login-button")
	if err != nil {
		err = clickByText(ctx, sess, "button", "登录", "Log In")
	}
	if err != nil {
		return nil, err
	}
	sleep(ctx, time.Second*5)

	location, err := currentUrl(ctx, sess)
	if err != nil {
		return nil, err
	}
	if strings.Contains(location, "/login") {
		span.SetStatus(codes.Error, "still on login page after submit")
		return nil, fmt.Errorf("%w: login form did not advance", ErrCredentialsInvalid)
	}

	cookies, err := sess.GetCookies(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("login succeeded but no cookies were set")
	}

	// replay the harvested cookies over plain HTTP to confirm the
	// session actually works outside the browser
	client, err := discourse.NewClient(provider)
	if err != nil {
		return nil, err
	}
	client.SetCookies(cookies)
	username, err := client.VerifySession(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "harvested cookies failed validation")
		return nil, err
	}

	return &Session{
		Method:   providers.AuthCredentials,
		Cookies:  cookies,
		Username: username,
	}, nil
}
