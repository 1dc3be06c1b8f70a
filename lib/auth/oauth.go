package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"checkind-backend/lib/browser"
	"checkind-backend/lib/providers"
	"checkind-backend/lib/scrapers/newapi"

	"go.opentelemetry.io/otel/codes"
)

// OAuthIdentity logs into a balance site through the forum's identity:
// it opens the site's login page in a browser, follows the "continue
// with the forum" button, authenticates against the forum, approves
// the authorization prompt, and harvests the session cookie minted on
// the way back.
type OAuthIdentity struct {
	Sessions browser.Factory
	// Forum is the identity provider descriptor (the Discourse
	// forum), used for recognizing its URLs during the flow.
	Forum providers.Provider
}

func (OAuthIdentity) Method() providers.AuthMethod {
	return providers.AuthOAuth
}

func (o OAuthIdentity) Authenticate(ctx context.Context, account Account, provider providers.Provider) (*Session, error) {
	ctx, span := tracer.Start(ctx, "OAuthIdentity:Authenticate")
	defer span.End()

	if !account.HasPassword() {
		return nil, ErrNoCredentials
	}

	forumHost, err := hostOf(o.Forum.Domain)
	if err != nil {
		return nil, err
	}
	providerHost, err := hostOf(provider.Domain)
	if err != nil {
		return nil, err
	}

	sess, err := o.Sessions.NewSession(ctx)
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
		span.SetStatus(codes.Error, "challenge on provider login page")
		return nil, err
	}
	sleep(ctx, time.Second*2)

	// consent checkbox, present on some sites
	_ = clickElement(ctx, sess, `input[type="checkbox"]:not(:checked)`)

	err = clickByText(ctx, sess, "button", "LinuxDO", "使用 LinuxDO 继续")
	if err != nil {
		span.SetStatus(codes.Error, "identity login button not found")
		return nil, fmt.Errorf("identity login button: %w", err)
	}
	sleep(ctx, time.Second*3)

	location, err := currentUrl(ctx, sess)
	if err != nil {
		return nil, err
	}

	if strings.Contains(location, forumHost) {
		err = o.loginToForum(ctx, sess, account)
		if err != nil {
			return nil, err
		}
	}

	// authorization prompt appears when the forum identity hasn't
	// approved this site before
	location, _ = currentUrl(ctx, sess)
	if strings.Contains(strings.ToLower(location), "authorize") {
		err = clickByText(ctx, sess, "button", "授权", "Authorize")
		if err == nil {
			sleep(ctx, time.Second*3)
		}
	}

	_, err = waitForUrl(ctx, sess, time.Second*15, func(u string) bool {
		return strings.Contains(u, providerHost) && !strings.Contains(u, "login")
	})
	if err != nil {
		span.SetStatus(codes.Error, "never redirected back to provider")
		return nil, fmt.Errorf("%w: %s", ErrBotChallenge, err)
	}

	// probe the user-info endpoint from inside the page first; the
	// flow can land back on the provider without a usable session when
	// the authorization was cancelled upstream
	probe, err := sess.Request(ctx, "GET", provider.Domain+provider.UserInfoPath, nil, nil)
	if err != nil {
		return nil, err
	}
	if !probe.Ok() {
		span.SetStatus(codes.Error, "in-page session probe failed")
		return nil, fmt.Errorf("oauth flow finished but the session probe returned http %d", probe.Status)
	}

	cookies, err := sess.GetCookies(ctx, providerHost)
	if err != nil {
		return nil, err
	}
	sessionToken, ok := cookies["session"]
	if !ok || sessionToken == "" {
		span.SetStatus(codes.Error, "no session cookie after oauth")
		return nil, fmt.Errorf("oauth flow completed but no session cookie was minted")
	}

	client, err := newapi.NewClient(provider)
	if err != nil {
		return nil, err
	}
	client.SetSession(sessionToken, nil)
	if account.ApiUser != "" {
		client.SetApiUser(account.ApiUser)
	}
	info, err := client.GetSelf(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "minted session failed validation")
		return nil, err
	}

	return &Session{
		Method:   providers.AuthOAuth,
		Cookies:  map[string]string{"session": sessionToken},
		Username: info.Username,
	}, nil
}

func (o OAuthIdentity) loginToForum(ctx context.Context, sess browser.Session, account Account) error {
	ctx, span := tracer.Start(ctx, "OAuthIdentity:loginToForum")
	defer span.End()

	err := waitForChallenge(ctx, sess, time.Second*30)
	if err != nil {
		span.SetStatus(codes.Error, "challenge on forum login page")
		return err
	}

	err = fillField(ctx, sess, "#login-account-name", account.Username)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBotChallenge, err)
	}
	sleep(ctx, time.Millisecond*500)
	err = fillField(ctx, sess, "#login-account-password", account.Password)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBotChallenge, err)
	}
	sleep(ctx, time.Millisecond*500)

	err = clickElement(ctx, sess, "#login-button")
	if err != nil {
		err = clickByText(ctx, sess, "button", "登录", "Log In")
	}
	if err != nil {
		return err
	}
	sleep(ctx, time.Second*5)

	location, err := currentUrl(ctx, sess)
	if err != nil {
		return err
	}
	if strings.Contains(location, "/login") && !strings.Contains(strings.ToLower(location), "authorize") {
		span.SetStatus(codes.Error, "still on forum login page")
		return fmt.Errorf("%w: forum login did not advance", ErrCredentialsInvalid)
	}
	return nil
}

func hostOf(domain string) (string, error) {
	u, err := url.Parse(domain)
	if err != nil {
		return "", err
	}
	return u.Hostname(), nil
}
