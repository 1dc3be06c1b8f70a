package discourse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"checkind-backend/lib/htmlutil"
	"checkind-backend/lib/providers"
	"checkind-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/discourse")

var ErrNotLoggedIn = fmt.Errorf("forum session is not logged in")

// ErrChallengePage means the edge served a bot-challenge interstitial
// instead of the API response.
var ErrChallengePage = fmt.Errorf("got bot challenge page instead of api response")

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"

// Client drives an authenticated Discourse forum session over plain
// HTTP. Login itself happens in a browser (the forum sits behind a bot
// challenge); the client replays the harvested cookies.
type Client struct {
	Provider providers.Provider
	Http     *resty.Client

	baseUrl *url.URL
	csrf    string
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
	client.SetHeader("accept", "application/json, text/javascript, */*; q=0.01")
	client.SetHeader("referer", provider.Domain)
	client.SetHeader("origin", provider.Domain)
	client.SetHeader("x-requested-with", "XMLHttpRequest")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/discourse/http")

	return &Client{
		Provider: provider,
		Http:     client,
		baseUrl:  baseUrl,
	}, nil
}

// SetCookies installs cookies harvested from a browser login.
func (c *Client) SetCookies(cookies map[string]string) {
	for name, value := range cookies {
		c.Http.SetCookie(&http.Cookie{
			Name:   name,
			Value:  value,
			Domain: c.baseUrl.Hostname(),
		})
	}
}

func (c *Client) fetchCsrf(ctx context.Context) error {
	res, err := c.Http.R().
		SetContext(ctx).
		Get("/session/csrf.json")
	if err != nil {
		return err
	}
	if htmlutil.IsChallengePage(res.Body()) {
		return ErrChallengePage
	}
	var body struct {
		Csrf string `json:"csrf"`
	}
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		return err
	}
	if body.Csrf == "" {
		return fmt.Errorf("could not obtain csrf token")
	}
	c.csrf = body.Csrf
	c.Http.SetHeader("x-csrf-token", c.csrf)
	return nil
}

// VerifySession checks the installed cookies against the forum's
// current-session endpoint and returns the logged-in username.
func (c *Client) VerifySession(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "client:VerifySession")
	defer span.End()

	err := c.fetchCsrf(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch csrf token")
		return "", err
	}

	res, err := c.Http.R().
		SetContext(ctx).
		Get("/session/current.json")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session check request failed")
		return "", err
	}
	if res.StatusCode() == 401 || res.StatusCode() == 403 || res.StatusCode() == 404 {
		span.SetStatus(codes.Error, "not logged in")
		return "", ErrNotLoggedIn
	}
	if res.StatusCode() != 200 {
		span.SetStatus(codes.Error, "unexpected status")
		return "", fmt.Errorf("session check returned http %d", res.StatusCode())
	}

	var body struct {
		CurrentUser struct {
			Username string `json:"username"`
		} `json:"current_user"`
	}
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		return "", err
	}
	if body.CurrentUser.Username == "" {
		return "", ErrNotLoggedIn
	}
	return body.CurrentUser.Username, nil
}

type Topic struct {
	Id    int    `json:"id"`
	Title string `json:"title"`
}

func (c *Client) Latest(ctx context.Context) ([]Topic, error) {
	ctx, span := tracer.Start(ctx, "client:Latest")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get("/latest.json")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch latest topics")
		return nil, err
	}
	if res.StatusCode() != 200 {
		span.SetStatus(codes.Error, "unexpected status")
		return nil, fmt.Errorf("latest topics returned http %d", res.StatusCode())
	}

	var body struct {
		TopicList struct {
			Topics []Topic `json:"topics"`
		} `json:"topic_list"`
	}
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		return nil, err
	}
	return body.TopicList.Topics, nil
}

type post struct {
	PostNumber int `json:"post_number"`
	Id         int `json:"id"`
}

func (c *Client) topicPosts(ctx context.Context, topicId int) ([]post, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/t/%d.json", topicId))
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != 200 {
		return nil, fmt.Errorf("topic %d returned http %d", topicId, res.StatusCode())
	}

	var body struct {
		PostStream struct {
			Posts []post `json:"posts"`
		} `json:"post_stream"`
	}
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		return nil, err
	}
	return body.PostStream.Posts, nil
}

// ReadTopic marks a topic as read by reporting per-post read timings,
// the same request the web client sends while a user scrolls. Returns
// the simulated reading time.
func (c *Client) ReadTopic(ctx context.Context, topicId int) (time.Duration, error) {
	ctx, span := tracer.Start(ctx, "client:ReadTopic")
	defer span.End()

	posts, err := c.topicPosts(ctx, topicId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch topic posts")
		return 0, err
	}
	if len(posts) == 0 {
		return 0, fmt.Errorf("topic %d has no posts", topicId)
	}

	// total simulated read time between 5 and 30 seconds
	totalMs, err := random.IntRange(5000, 30000)
	if err != nil {
		return 0, err
	}

	form := map[string]string{
		"topic_id":   strconv.Itoa(topicId),
		"topic_time": strconv.Itoa(totalMs),
	}
	postCount := min(len(posts), 5)
	perPost := totalMs / postCount
	for _, p := range posts[:postCount] {
		jitter, err := random.IntRange(-500, 500)
		if err != nil {
			jitter = 0
		}
		form[fmt.Sprintf("timings[%d]", p.PostNumber)] = strconv.Itoa(max(1000, perPost+jitter))
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded; charset=UTF-8").
		SetFormData(form).
		Post("/topics/timings")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "timings request failed")
		return 0, err
	}
	if res.StatusCode() != 200 {
		span.SetStatus(codes.Error, "timings rejected")
		return 0, fmt.Errorf("timings for topic %d returned http %d", topicId, res.StatusCode())
	}

	return time.Duration(totalMs) * time.Millisecond, nil
}

// LikeFirstPost performs the "like" post action on a topic's first
// post. Already-liked responses (403 with a liked error) are treated
// as done.
func (c *Client) LikeFirstPost(ctx context.Context, topicId int) error {
	ctx, span := tracer.Start(ctx, "client:LikeFirstPost")
	defer span.End()

	posts, err := c.topicPosts(ctx, topicId)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		return fmt.Errorf("topic %d has no posts", topicId)
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"id":                  strconv.Itoa(posts[0].Id),
			"post_action_type_id": "2",
		}).
		Post("/post_actions")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "like request failed")
		return err
	}
	if res.StatusCode() != 200 && res.StatusCode() != 403 {
		span.SetStatus(codes.Error, "like rejected")
		return fmt.Errorf("like on topic %d returned http %d", topicId, res.StatusCode())
	}
	return nil
}
