package checkin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveLegacyForumAccount(t *testing.T) {
	env := map[string]string{
		"LINUXDO_USERNAME":     "alice",
		"LINUXDO_PASSWORD":     "hunter2",
		"LINUXDO_BROWSE_COUNT": "15",
	}

	accounts, err := ResolveAccounts(env)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	a := accounts[0]
	require.Equal(t, "alice", a.Name)
	require.Equal(t, "linuxdo", a.Provider)
	require.True(t, a.HasPassword())
	require.True(t, a.Options.Bool("browse_enabled"))
	require.Equal(t, 15, a.Options.Int("browse_count", 10))
}

func TestResolveLegacyBalanceSiteAccount(t *testing.T) {
	env := map[string]string{
		"NEWAPI_COOKIE":   "tok123",
		"NEWAPI_PROVIDER": "wong",
		"NEWAPI_API_USER": "42",
	}

	accounts, err := ResolveAccounts(env)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	a := accounts[0]
	require.Equal(t, "wong", a.Name)
	require.Equal(t, "wong", a.Provider)
	require.Equal(t, map[string]string{"session": "tok123"}, a.Cookies)
	require.Equal(t, "42", a.ApiUser)
}

func TestJsonArraySupersedesLegacyVariables(t *testing.T) {
	env := map[string]string{
		"CHECKIN_ACCOUNTS": `[
			{"name": "json-alice", "provider": "linuxdo", "username": "alice", "password": "hunter2"},
		]`,
		"LINUXDO_USERNAME": "alice",
		"LINUXDO_PASSWORD": "hunter2",
	}

	accounts, err := ResolveAccounts(env)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "json-alice", accounts[0].Name)
}

func TestAnyRouterArrayForcesProvider(t *testing.T) {
	env := map[string]string{
		"ANYROUTER_ACCOUNTS": `[
			{"name": "ar-1", "provider": "something-else", "cookies": "tok123"},
		]`,
	}

	accounts, err := ResolveAccounts(env)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "anyrouter", accounts[0].Provider)
	require.Equal(t, map[string]string{"session": "tok123"}, accounts[0].Cookies)
}

func TestUnknownFieldsLandInOptions(t *testing.T) {
	env := map[string]string{
		"CHECKIN_ACCOUNTS": `[
			{
				"provider": "linuxdo",
				"username": "alice",
				"password": "hunter2",
				"browse_enabled": true,
				"browse_count": 7,
			},
		]`,
	}

	accounts, err := ResolveAccounts(env)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.True(t, accounts[0].Options.Bool("browse_enabled"))
	require.Equal(t, 7, accounts[0].Options.Int("browse_count", 10))
}

func TestCookieObjectForm(t *testing.T) {
	env := map[string]string{
		"CHECKIN_ACCOUNTS": `[
			{"provider": "anyrouter", "cookies": {"session": "tok123", "acw_tc": "waf1"}},
		]`,
	}

	accounts, err := ResolveAccounts(env)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "waf1", accounts[0].Cookies["acw_tc"])
}

func TestCredentiallessEntriesAreDropped(t *testing.T) {
	env := map[string]string{
		"CHECKIN_ACCOUNTS": `[
			{"provider": "wong", "name": "empty"},
			{"provider": "wong", "cookies": "tok123"},
		]`,
	}

	accounts, err := ResolveAccounts(env)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "wong-2", accounts[0].Name)
}

func TestMalformedJsonIsConfigError(t *testing.T) {
	env := map[string]string{
		"CHECKIN_ACCOUNTS": `[{not json`,
	}
	_, err := ResolveAccounts(env)
	require.ErrorIs(t, err, ErrConfig)
}

func TestNoAccountsIsConfigError(t *testing.T) {
	_, err := ResolveAccounts(map[string]string{})
	require.ErrorIs(t, err, ErrConfig)
}

func TestAllDeclaredAccountsUnusableIsConfigError(t *testing.T) {
	env := map[string]string{
		"CHECKIN_ACCOUNTS": `[{"provider": "wong", "name": "empty"}]`,
	}
	_, err := ResolveAccounts(env)
	require.ErrorIs(t, err, ErrConfig)
}
