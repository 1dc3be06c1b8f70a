package htmlutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsChallengePage(t *testing.T) {
	challenge := []byte(`<!DOCTYPE html>
		<html><head><title>Just a moment...</title></head>
		<body>Checking your browser</body></html>`)
	require.True(t, IsChallengePage(challenge))

	regular := []byte(`<html><head><title>Latest topics</title></head><body></body></html>`)
	require.False(t, IsChallengePage(regular))

	apiResponse := []byte(`{"success": true, "message": ""}`)
	require.False(t, IsChallengePage(apiResponse))
}

func TestIsChallengeTitle(t *testing.T) {
	require.True(t, IsChallengeTitle("Just a moment..."))
	require.True(t, IsChallengeTitle("请稍候…"))
	require.False(t, IsChallengeTitle("LINUX DO"))
	require.False(t, IsChallengeTitle(""))
}

func TestPageTitle(t *testing.T) {
	require.Equal(t, "Hello", PageTitle([]byte(`<html><head><title> Hello </title></head></html>`)))
	require.Equal(t, "", PageTitle([]byte(`<html><body>no title</body></html>`)))
}
