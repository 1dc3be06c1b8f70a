package providers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupBuiltin(t *testing.T) {
	r := NewRegistry()

	forum, err := r.Lookup("linuxdo")
	require.NoError(t, err)
	require.Equal(t, KindDiscourse, forum.Kind)
	require.Equal(t, []AuthMethod{AuthCredentials, AuthCookie}, forum.AuthPriority)

	anyrouter, err := r.Lookup("anyrouter")
	require.NoError(t, err)
	require.Equal(t, BypassWafCookie, anyrouter.BypassMethod)
	require.Equal(t, []AuthMethod{AuthCookie}, anyrouter.AuthPriority)
	require.Contains(t, anyrouter.WafCookieNames, "acw_tc")
}

func TestLookupUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("nonexistent")
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestBuiltinNewApiDefaults(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"wong", "kfcapi", "neb", "runanytime", "elysiver", "duckcoding"} {
		p, err := r.Lookup(id)
		require.NoError(t, err)
		require.Equal(t, KindNewApi, p.Kind)
		require.Equal(t, "/api/user/checkin", p.SignInPath)
		require.Equal(t, "/api/user/self", p.UserInfoPath)
		require.Equal(t, "new-api-user", p.ApiUserKey)
	}
}

func TestRegisterOverrides(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterOverrides(`{
		"mysite": {
			"name": "My Site",
			"domain": "https://my.example.com",
		},
	}`)
	require.NoError(t, err)

	p, err := r.Lookup("mysite")
	require.NoError(t, err)
	require.Equal(t, "mysite", p.Id)
	require.Equal(t, KindNewApi, p.Kind)
	require.Equal(t, "/api/user/checkin", p.SignInPath)
	require.Equal(t, []AuthMethod{AuthOAuth, AuthCookie}, p.AuthPriority)
}

func TestRegisterOverridesShadowsBuiltin(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterOverrides(`{
		"wong": {"domain": "https://mirror.example.com"},
	}`)
	require.NoError(t, err)

	p, err := r.Lookup("wong")
	require.NoError(t, err)
	require.Equal(t, "https://mirror.example.com", p.Domain)
}

func TestRegisterOverridesMalformed(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterOverrides(`{not valid`)
	require.Error(t, err)
}

func TestSupportsAuth(t *testing.T) {
	r := NewRegistry()
	forum, err := r.Lookup("linuxdo")
	require.NoError(t, err)
	require.True(t, forum.SupportsAuth(AuthCookie))
	require.False(t, forum.SupportsAuth(AuthOAuth))
}
