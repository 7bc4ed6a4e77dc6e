package notifications

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSendAlert_PostsToChat tests the outgoing form payload
func TestSendAlert_PostsToChat(t *testing.T) {
	var gotPath, gotChatID, gotText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotChatID = r.FormValue("chat_id")
		gotText = r.FormValue("text")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewTelegramNotifier("test-token", "42")
	n.apiBase = server.URL

	err := n.SendAlert(LevelCritical, "Circuit breaker (daily) breached")

	require.NoError(t, err)
	assert.Equal(t, "/bottest-token/sendMessage", gotPath)
	assert.Equal(t, "42", gotChatID)
	assert.Contains(t, gotText, "CRITICAL")
	assert.Contains(t, gotText, "Circuit breaker (daily) breached")
}

// TestSendAlert_NonOKStatus tests the error on an API failure
func TestSendAlert_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewTelegramNotifier("test-token", "42")
	n.apiBase = server.URL

	err := n.SendAlert(LevelInfo, "hello")
	assert.ErrorContains(t, err, "502")
}
