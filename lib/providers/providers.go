package providers

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/titanous/json5"
)

var ErrUnknownProvider = errors.New("unknown provider")

// AuthMethod names a way of establishing an authenticated session
// against a provider. A provider's AuthPriority lists the methods it
// supports, in fallback order.
type AuthMethod string

const (
	AuthOAuth       AuthMethod = "oauth"
	AuthCookie      AuthMethod = "cookie"
	AuthCredentials AuthMethod = "credentials"
)

// BypassMethod names the anti-bot countermeasure the provider sits
// behind, which decides how the HTTP transport is dressed up.
type BypassMethod string

const (
	BypassNone       BypassMethod = ""
	BypassCloudflare BypassMethod = "cloudflare"
	BypassWafCookie  BypassMethod = "waf_cookie"
)

// Kind splits providers into the families that have distinct check-in
// action sequences.
type Kind string

const (
	// KindDiscourse is a Discourse forum: activity credit comes from
	// browsing topics, not from a sign-in endpoint.
	KindDiscourse Kind = "discourse"
	// KindNewApi is a new-api/one-api style balance site with a
	// sign-in endpoint and a user-info endpoint.
	KindNewApi Kind = "newapi"
)

type Provider struct {
	Id             string       `json:"id"`
	Name           string       `json:"name"`
	Domain         string       `json:"domain"`
	Kind           Kind         `json:"kind"`
	SignInPath     string       `json:"sign_in_path"`
	UserInfoPath   string       `json:"user_info_path"`
	ApiUserKey     string       `json:"api_user_key"`
	BypassMethod   BypassMethod `json:"bypass_method"`
	WafCookieNames []string     `json:"waf_cookie_names"`
	AuthPriority   []AuthMethod `json:"auth_priority"`
	// CurrencyUnit prefixes balance values in outcome details.
	CurrencyUnit string `json:"currency_unit"`
}

func (p Provider) SupportsAuth(m AuthMethod) bool {
	for _, a := range p.AuthPriority {
		if a == m {
			return true
		}
	}
	return false
}

// new-api standard paths, shared by every balance site.
const (
	newApiSignInPath   = "/api/user/checkin"
	newApiUserInfoPath = "/api/user/self"
	newApiUserKey      = "new-api-user"
)

func newApiSite(id, name, domain, currency string) Provider {
	return Provider{
		Id:           id,
		Name:         name,
		Domain:       domain,
		Kind:         KindNewApi,
		SignInPath:   newApiSignInPath,
		UserInfoPath: newApiUserInfoPath,
		ApiUserKey:   newApiUserKey,
		BypassMethod: BypassCloudflare,
		AuthPriority: []AuthMethod{AuthOAuth, AuthCookie},
		CurrencyUnit: currency,
	}
}

func builtins() []Provider {
	anyrouter := newApiSite("anyrouter", "AnyRouter", "https://api.anyrouter.top", "$")
	anyrouter.BypassMethod = BypassWafCookie
	anyrouter.WafCookieNames = []string{"acw_tc", "cdn_sec_tc"}
	anyrouter.AuthPriority = []AuthMethod{AuthCookie}

	return []Provider{
		{
			Id:           "linuxdo",
			Name:         "LinuxDO",
			Domain:       "https://linux.do",
			Kind:         KindDiscourse,
			UserInfoPath: "/session/current.json",
			BypassMethod: BypassCloudflare,
			AuthPriority: []AuthMethod{AuthCredentials, AuthCookie},
		},
		anyrouter,
		newApiSite("wong", "WONG", "https://wzw.pp.ua", "$"),
		newApiSite("kfcapi", "KFC API", "https://kfc-api.sxxe.net", "$"),
		newApiSite("neb", "NEB", "https://ai.zzhdsgsss.xyz", "$"),
		newApiSite("runanytime", "RunAnytime", "https://runanytime.hxi.me", "$"),
		newApiSite("elysiver", "Elysiver", "https://elysiver.h-e.top", "E "),
		newApiSite("duckcoding", "Free DuckCoding", "https://free.duckcoding.com", "¥"),
	}
}

// Registry is an id -> Provider catalog. It is populated once at
// startup and read-only afterwards, so it is shared without locking.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	r := &Registry{providers: map[string]Provider{}}
	for _, p := range builtins() {
		r.providers[p.Id] = p
	}
	return r
}

func (r *Registry) Lookup(id string) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return p, nil
}

func (r *Registry) Ids() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	return ids
}

// RegisterOverrides merges user-defined provider descriptors from a
// JSON object keyed by provider id. Overriding a built-in id is
// accepted but logged, never silent.
func (r *Registry) RegisterOverrides(raw string) error {
	if raw == "" {
		return nil
	}

	var overrides map[string]Provider
	err := json5.Unmarshal([]byte(raw), &overrides)
	if err != nil {
		return fmt.Errorf("malformed provider overrides: %w", err)
	}

	for id, p := range overrides {
		p.Id = id
		if p.Kind == "" {
			p.Kind = KindNewApi
		}
		if p.SignInPath == "" && p.Kind == KindNewApi {
			p.SignInPath = newApiSignInPath
		}
		if p.UserInfoPath == "" && p.Kind == KindNewApi {
			p.UserInfoPath = newApiUserInfoPath
		}
		if p.ApiUserKey == "" && p.Kind == KindNewApi {
			p.ApiUserKey = newApiUserKey
		}
		if len(p.AuthPriority) == 0 {
			p.AuthPriority = []AuthMethod{AuthOAuth, AuthCookie}
		}

		if _, exists := r.providers[id]; exists {
			slog.Warn("provider override shadows built-in descriptor", "id", id)
		} else {
			slog.Info("registered user-defined provider", "id", id, "domain", p.Domain)
		}
		r.providers[id] = p
	}

	return nil
}
