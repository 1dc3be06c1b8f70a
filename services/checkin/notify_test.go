package checkin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleReport() *Report {
	now := time.Now()
	return &Report{
		StartedAt:  now.Add(-time.Minute),
		FinishedAt: now,
		Outcomes: []Outcome{
			{Account: "alice", Provider: "linuxdo", Status: StatusSuccess, Detail: "signed in as alice", Attempts: 1},
			{Account: "ar-1", Provider: "anyrouter", Status: StatusFailed, Detail: "session cookie rejected by provider", Attempts: 3},
			{Account: "late", Provider: "wong", Status: StatusSkipped, Detail: "not attempted: run timed out"},
		},
	}
}

func TestConsoleNotifier(t *testing.T) {
	var buf strings.Builder
	err := ConsoleNotifier{Out: &buf}.Send(context.Background(), sampleReport())
	require.NoError(t, err)

	rendered := buf.String()
	require.Contains(t, rendered, "alice")
	require.Contains(t, rendered, "signed in as alice")
	require.Contains(t, rendered, "anyrouter")
	require.Contains(t, rendered, "1 ok / 1 failed / 1 skipped")
}

func TestWebhookNotifier(t *testing.T) {
	var received *Report
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var report Report
		require.NoError(t, json.NewDecoder(r.Body).Decode(&report))
		received = &report
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.URL).Send(context.Background(), sampleReport())
	require.NoError(t, err)
	require.NotNil(t, received)
	require.Len(t, received.Outcomes, 3)
	require.Equal(t, "alice", received.Outcomes[0].Account)
}

func TestWebhookNotifierRejectedReport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.URL).Send(context.Background(), sampleReport())
	require.Error(t, err)
}

func TestFanOutJoinsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var buf strings.Builder
	err := FanOut(context.Background(), sampleReport(), []Notifier{
		NewWebhookNotifier(server.URL),
		ConsoleNotifier{Out: &buf},
	})
	require.Error(t, err)
	// the console notifier still ran
	require.Contains(t, buf.String(), "alice")
}
