package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/flock/pkg/observability"
)

func fastWebhook(url, secret string, attempts int) *WebhookNotifier {
	return NewWebhookNotifier(WebhookConfig{
		URL:          url,
		Secret:       secret,
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}, observability.NopLogger(), nil)
}

func TestWebhookNotifierSignsPayload(t *testing.T) {
	var got MembershipEvent
	var signature, eventType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		signature = r.Header.Get(HeaderSignature)
		eventType = r.Header.Get(HeaderEvent)
		if !VerifySignature(body, signature, "s3cret") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := fastWebhook(srv.URL, "s3cret", 1)
	require.NoError(t, n.deliver(context.Background(), testEvent()))

	assert.Equal(t, "c1", got.CommunityID)
	assert.Equal(t, string(EventMembershipCreated), eventType)
	assert.Contains(t, signature, "sha256=")
}

func TestWebhookNotifierRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := fastWebhook(srv.URL, "", 5)
	require.NoError(t, n.deliver(context.Background(), testEvent()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookNotifierGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := fastWebhook(srv.URL, "", 3)
	err := n.deliver(context.Background(), testEvent())
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	// OnMembershipCreated swallows the failure
	n.OnMembershipCreated(context.Background(), testEvent())
}

func TestWebhookNotifierDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := fastWebhook(srv.URL, "", 5)
	require.Error(t, n.deliver(context.Background(), testEvent()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"e1"}`)
	sig := Sign(payload, "k")
	assert.True(t, VerifySignature(payload, sig, "k"))
	assert.False(t, VerifySignature(payload, sig, "other"))
	assert.False(t, VerifySignature([]byte(`{}`), sig, "k"))
}
