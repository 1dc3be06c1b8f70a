package checkin

import (
	"errors"
	"fmt"
	"log/slog"

	"checkind-backend/lib/auth"

	"github.com/titanous/json5"
)

// ErrConfig marks configuration failures that prevent any account from
// being attempted. Per-account problems (unknown provider, expired
// cookie) are not config errors; they become Failed outcomes.
var ErrConfig = errors.New("invalid configuration")

// environment variables recognized by the resolver
const (
	// JSON array of account objects, any provider
	envAccounts = "CHECKIN_ACCOUNTS"
	// JSON array of cookie-only accounts for the anyrouter provider,
	// kept for compatibility with the cookie extraction tooling
	envAnyRouterAccounts = "ANYROUTER_ACCOUNTS"
	// JSON object of user-defined provider descriptors
	envProviders = "CHECKIN_PROVIDERS"

	// legacy single-account forum configuration
	envForumUsername    = "LINUXDO_USERNAME"
	envForumPassword    = "LINUXDO_PASSWORD"
	envForumBrowseCount = "LINUXDO_BROWSE_COUNT"

	// legacy single-account balance site configuration
	envNewApiCookie   = "NEWAPI_COOKIE"
	envNewApiProvider = "NEWAPI_PROVIDER"
	envNewApiApiUser  = "NEWAPI_API_USER"
	envNewApiName     = "NEWAPI_NAME"
)

const legacyForumProvider = "linuxdo"
const anyRouterProvider = "anyrouter"

// ProviderOverrides returns the raw user-defined provider block, to be
// fed to the registry before resolution.
func ProviderOverrides(env map[string]string) string {
	return env[envProviders]
}

// ResolveAccounts normalizes the heterogeneous environment-supplied
// configuration into the account list for this run. Three shapes are
// supported simultaneously: legacy flat variables, the general JSON
// account array, and the anyrouter-specific JSON array. When a JSON
// array declares accounts for a provider, the legacy flat variables
// for that provider are ignored entirely (not merged) so the same
// account is never processed twice.
func ResolveAccounts(env map[string]string) ([]auth.Account, error) {
	var accounts []auth.Account
	declared := 0

	jsonAccounts, n, err := parseAccountArray(env[envAccounts], "")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrConfig, envAccounts, err)
	}
	declared += n
	accounts = append(accounts, jsonAccounts...)

	anyRouterAccounts, n, err := parseAccountArray(env[envAnyRouterAccounts], anyRouterProvider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrConfig, envAnyRouterAccounts, err)
	}
	declared += n
	accounts = append(accounts, anyRouterAccounts...)

	jsonProviders := map[string]bool{}
	for _, a := range accounts {
		jsonProviders[a.Provider] = true
	}

	if env[envForumUsername] != "" && env[envForumPassword] != "" {
		declared++
		if jsonProviders[legacyForumProvider] {
			slog.Info("legacy forum variables ignored, superseded by JSON account array")
		} else {
			accounts = append(accounts, auth.Account{
				Name:     env[envForumUsername],
				Provider: legacyForumProvider,
				Username: env[envForumUsername],
				Password: env[envForumPassword],
				Options: auth.Options{
					"browse_enabled": true,
					"browse_count":   env[envForumBrowseCount],
				},
			})
		}
	}

	if env[envNewApiCookie] != "" && env[envNewApiProvider] != "" {
		declared++
		if jsonProviders[env[envNewApiProvider]] {
			slog.Info("legacy balance site variables ignored, superseded by JSON account array",
				"provider", env[envNewApiProvider])
		} else {
			name := env[envNewApiName]
			if name == "" {
				name = env[envNewApiProvider]
			}
			accounts = append(accounts, auth.Account{
				Name:     name,
				Provider: env[envNewApiProvider],
				Cookies:  map[string]string{"session": env[envNewApiCookie]},
				ApiUser:  env[envNewApiApiUser],
				Options:  auth.Options{},
			})
		}
	}

	if declared == 0 {
		return nil, fmt.Errorf("%w: no accounts configured", ErrConfig)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: every declared account is missing required fields", ErrConfig)
	}
	return accounts, nil
}

// known account object fields; everything else passes through into
// Options untouched for forward compatibility
var knownAccountFields = map[string]bool{
	"name":     true,
	"provider": true,
	"username": true,
	"password": true,
	"cookies":  true,
	"api_user": true,
}

// parseAccountArray decodes a JSON array of account objects. It
// returns the usable accounts and the number of declared entries;
// entries missing every credential form are dropped with a warning
// rather than failing the batch.
func parseAccountArray(raw, forceProvider string) ([]auth.Account, int, error) {
	if raw == "" {
		return nil, 0, nil
	}

	var entries []map[string]any
	err := json5.Unmarshal([]byte(raw), &entries)
	if err != nil {
		return nil, 0, fmt.Errorf("malformed account array: %w", err)
	}

	var accounts []auth.Account
	for i, entry := range entries {
		account := auth.Account{
			Provider: forceProvider,
			Options:  auth.Options{},
		}

		for key, value := range entry {
			switch key {
			case "name":
				account.Name, _ = value.(string)
			case "provider":
				if forceProvider == "" {
					account.Provider, _ = value.(string)
				}
			case "username":
				account.Username, _ = value.(string)
			case "password":
				account.Password, _ = value.(string)
			case "api_user":
				account.ApiUser = stringify(value)
			case "cookies":
				account.Cookies = parseCookieField(value)
			default:
				account.Options[key] = value
			}
		}

		if account.Name == "" {
			if account.Username != "" {
				account.Name = account.Username
			} else {
				account.Name = fmt.Sprintf("%s-%d", account.Provider, i+1)
			}
		}

		if account.Provider == "" {
			slog.Warn("dropping account with no provider", "name", account.Name)
			continue
		}
		if !account.HasPassword() && !account.HasCookies() {
			slog.Warn("dropping account with no usable credentials",
				"name", account.Name, "provider", account.Provider)
			continue
		}

		accounts = append(accounts, account)
	}

	return accounts, len(entries), nil
}

// parseCookieField accepts both a {"session": "..."} object and a
// plain cookie string.
func parseCookieField(value any) map[string]string {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		return map[string]string{"session": v}
	case map[string]any:
		cookies := map[string]string{}
		for name, raw := range v {
			if s, ok := raw.(string); ok && s != "" {
				cookies[name] = s
			}
		}
		if len(cookies) == 0 {
			return nil
		}
		return cookies
	}
	return nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}
