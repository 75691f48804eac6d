package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifier_PostsSlackPayload(t *testing.T) {
	var got slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	n.Notify(context.Background(), Message{
		Kind:   KindBudgetThreshold,
		Title:  "LLM budget at 85%",
		Text:   "Spent $8.50 of $10.00 this month",
		Fields: []Field{{Title: "Limit", Value: "$10.00", Short: true}},
	})

	assert.Equal(t, "LLM budget at 85%", got.Text)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "warning", got.Attachments[0].Color)
	assert.Equal(t, "Spent $8.50 of $10.00 this month", got.Attachments[0].Text)
	assert.Equal(t, "$10.00", got.Attachments[0].Fields[0].Value)
}

func TestWebhookNotifier_FailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, 0)
	assert.NotPanics(t, func() { n.Notify(context.Background(), Message{Kind: KindBudgetHardStop, Title: "x"}) })
	assert.Error(t, n.send(context.Background(), Message{Title: "x"}))
}

func TestNewWithoutURLIsNop(t *testing.T) {
	_, ok := New("").(Nop)
	assert.True(t, ok)
}
