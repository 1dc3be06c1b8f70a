package newapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"checkind-backend/lib/htmlutil"
	"checkind-backend/lib/providers"
	"checkind-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/newapi")

var ErrSessionInvalid = fmt.Errorf("session cookie rejected by provider")

// ErrChallengePage means the edge served a bot-challenge interstitial
// instead of the API response.
var ErrChallengePage = errors.New("got bot challenge page instead of api response")

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"

// Client talks to one new-api/one-api style balance site on behalf of
// one account.
type Client struct {
	Provider providers.Provider
	Http     *resty.Client

	baseUrl *url.URL
	apiUser string
}

func NewClient(provider providers.Provider) (*Client, error) {
	baseUrl, err := url.Parse(provider.Domain)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(provider.Domain)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	if provider.BypassMethod == providers.BypassCloudflare {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	client.SetHeader("user-agent", userAgent)
	client.SetHeader("accept", "application/json, text/plain, */*")
	client.SetHeader("referer", provider.Domain+"/console/personal")
	client.SetHeader("origin", provider.Domain)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/newapi/http")

	return &Client{
		Provider: provider,
		Http:     client,
		baseUrl:  baseUrl,
	}, nil
}

// SetSession installs the authenticated session cookie plus any extra
// cookies (WAF tokens) the provider needs alongside it.
func (c *Client) SetSession(sessionToken string, extra map[string]string) {
	c.Http.SetCookie(&http.Cookie{
		Name:   "session",
		Value:  sessionToken,
		Domain: c.baseUrl.Hostname(),
	})
	for name, value := range extra {
		c.Http.SetCookie(&http.Cookie{
			Name:   name,
			Value:  value,
			Domain: c.baseUrl.Hostname(),
		})
	}
}

func (c *Client) SetApiUser(apiUser string) {
	c.apiUser = apiUser
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.Http.R().SetContext(ctx)
	if c.apiUser != "" && c.Provider.ApiUserKey != "" {
		req.SetHeader(c.Provider.ApiUserKey, c.apiUser)
	}
	return req
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type UserInfo struct {
	Username  string
	Quota     float64
	UsedQuota float64
}

// new-api stores quota in credits worth 1/500000 of a dollar
const quotaPerUnit = 500000

func scaleQuota(raw int64) float64 {
	return math.Round(float64(raw)/quotaPerUnit*100) / 100
}

// GetSelf fetches the account's user info, which doubles as session
// validation: a rejected session yields ErrSessionInvalid.
func (c *Client) GetSelf(ctx context.Context) (UserInfo, error) {
	ctx, span := tracer.Start(ctx, "client:GetSelf")
	defer span.End()

	res, err := c.request(ctx).Get(c.Provider.UserInfoPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user info request failed")
		return UserInfo{}, err
	}
	if htmlutil.IsChallengePage(res.Body()) {
		span.SetStatus(codes.Error, "challenge page")
		return UserInfo{}, ErrChallengePage
	}
	if res.StatusCode() == 401 || res.StatusCode() == 403 {
		span.SetStatus(codes.Error, "session rejected")
		return UserInfo{}, fmt.Errorf("%w: http %d", ErrSessionInvalid, res.StatusCode())
	}
	if res.StatusCode() != 200 {
		span.SetStatus(codes.Error, "unexpected status")
		return UserInfo{}, fmt.Errorf("user info endpoint returned http %d", res.StatusCode())
	}

	var env envelope
	err = json.Unmarshal(res.Body(), &env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse user info body")
		return UserInfo{}, err
	}
	if !env.Success {
		span.SetStatus(codes.Error, "user info rejected")
		return UserInfo{}, fmt.Errorf("%w: %s", ErrSessionInvalid, env.Message)
	}

	var data struct {
		Username  string `json:"username"`
		Quota     int64  `json:"quota"`
		UsedQuota int64  `json:"used_quota"`
	}
	err = json.Unmarshal(env.Data, &data)
	if err != nil {
		return UserInfo{}, err
	}

	return UserInfo{
		Username:  data.Username,
		Quota:     scaleQuota(data.Quota),
		UsedQuota: scaleQuota(data.UsedQuota),
	}, nil
}

type SignInResult struct {
	Message string
	// Already is set when the provider reports today's sign-in was
	// done before; that still counts as a success.
	Already bool
}

func (c *Client) SignIn(ctx context.Context) (SignInResult, error) {
	ctx, span := tracer.Start(ctx, "client:SignIn")
	defer span.End()

	res, err := c.request(ctx).
		SetHeader("content-type", "application/json").
		Post(c.Provider.SignInPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sign-in request failed")
		return SignInResult{}, err
	}
	if htmlutil.IsChallengePage(res.Body()) {
		span.SetStatus(codes.Error, "challenge page")
		return SignInResult{}, ErrChallengePage
	}
	if res.StatusCode() != 200 {
		span.SetStatus(codes.Error, "unexpected status")
		return SignInResult{}, fmt.Errorf("sign-in endpoint returned http %d", res.StatusCode())
	}

	var env envelope
	err = json.Unmarshal(res.Body(), &env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse sign-in body")
		return SignInResult{}, err
	}

	if env.Success {
		msg := env.Message
		if msg == "" {
			msg = "signed in"
		}
		return SignInResult{Message: msg}, nil
	}
	if isAlreadySignedIn(env.Message) {
		return SignInResult{Message: env.Message, Already: true}, nil
	}

	span.SetStatus(codes.Error, env.Message)
	return SignInResult{}, fmt.Errorf("sign-in rejected: %s", env.Message)
}

// markers the upstream sites use for "you already signed in today"
func isAlreadySignedIn(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "already") ||
		strings.Contains(message, "已") ||
		strings.Contains(message, "今天")
}

var ErrNoSessionCookie = errors.New("no session cookie found in cookie material")

// ParseSessionCookie extracts the session token from the cookie
// material users paste into configuration. Three shapes are accepted:
// a "session=..." pair (with or without trailing attributes), a full
// cookie header containing a session pair, or a bare token.
func ParseSessionCookie(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrNoSessionCookie
	}

	if !strings.Contains(raw, "=") {
		return raw, nil
	}
	if strings.HasPrefix(raw, "session=") {
		value := strings.TrimPrefix(raw, "session=")
		return strings.SplitN(value, ";", 2)[0], nil
	}
	for _, pair := range strings.Split(raw, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if found && strings.TrimSpace(key) == "session" {
			return strings.TrimSpace(value), nil
		}
	}

	// cookie material with pairs but no session key; treat the whole
	// string as opaque, matching what the extraction tooling emits
	return raw, nil
}
