package browser

import (
	"context"
	"net/http"
)

// Response is the subset of an HTTP exchange the scraping code needs
// when a request is issued from inside a page.
type Response struct {
	Status int
	Body   []byte
}

func (r Response) Ok() bool {
	return r.Status >= 200 && r.Status < 300
}

// Session is a single authenticated-browsing context. A session is
// exclusively owned by the account currently using it; sessions are
// never shared across accounts.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// EvaluateScript runs js in the page and returns the result
	// serialized to a string.
	EvaluateScript(ctx context.Context, js string) (string, error)
	GetCookies(ctx context.Context, domain string) (map[string]string, error)
	// Request issues an HTTP request from within the page context so
	// it carries the page's cookies and origin.
	Request(ctx context.Context, method, url string, headers http.Header, body []byte) (Response, error)
	Close() error
}

// Factory creates sessions. The orchestrator asks for a fresh session
// per account.
type Factory interface {
	NewSession(ctx context.Context) (Session, error)
}

// RuntimeEnvironment captures the ambient facts that influence browser
// construction. It is resolved once at process startup and passed in
// explicitly, strategies never read os.Getenv themselves.
type RuntimeEnvironment struct {
	IsCI       bool
	HasDisplay bool
}

func (e RuntimeEnvironment) Headless() bool {
	return e.IsCI || !e.HasDisplay
}

// DetectRuntimeEnvironment reads the given environment map (usually
// built from os.Environ by the CLI layer).
func DetectRuntimeEnvironment(env map[string]string) RuntimeEnvironment {
	return RuntimeEnvironment{
		IsCI:       env["CI"] != "" || env["GITHUB_ACTIONS"] != "",
		HasDisplay: env["DISPLAY"] != "",
	}
}
