package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verabot/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(&config.Config{
		GoogleAIAPIKey:  "test-key",
		MMModel:         "gemini-2.5-flash",
		MMFallbackModel: "gemini-2.5-flash-lite",
		MMTimeoutSec:    10,
		MMMaxRetries:    2,
	})
	c.baseURL = srv.URL
	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }
	return c, &slept
}

func okBody(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"text":%q}]}}]}`, text)
}

func TestGenerateInlineSuccess(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-2.5-flash:generateContent")
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(okBody("one million parfum")))
	})

	text, meta := c.GenerateInline(context.Background(), "qué ves", []byte{1, 2}, "image/jpeg; charset=x", 0.0)
	assert.Equal(t, "one million parfum", text)
	assert.True(t, meta.OK)
	assert.Equal(t, "gemini-2.5-flash", meta.Model)
	assert.Equal(t, "image/jpeg", meta.MimeType, "mime parameters are stripped")
}

func TestRetiredModelFallsBackImmediately(t *testing.T) {
	var models []string
	c, slept := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		model := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1beta/models/"), ":")[0]
		models = append(models, model)
		w.Header().Set("Content-Type", "application/json")
		if model == "gemini-2.5-flash" {
			w.WriteHeader(404)
			w.Write([]byte(`{"error":{"status":"NOT_FOUND","message":"model is no longer available"}}`))
			return
		}
		w.Write([]byte(okBody("desde el fallback")))
	})

	text, meta := c.GenerateInline(context.Background(), "p", nil, "image/jpeg", 0.0)
	assert.Equal(t, "desde el fallback", text)
	assert.True(t, meta.OK)
	assert.Equal(t, "gemini-2.5-flash-lite", meta.Model)
	assert.Equal(t, []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}, models)
	assert.Empty(t, *slept, "a retired model must not burn backoff sleeps")
}

func TestRateLimitHonorsRetryHint(t *testing.T) {
	var calls int
	c, slept := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			w.WriteHeader(429)
			w.Write([]byte(`{"error":{"message":"quota exceeded, retry in 3.5s"}}`))
			return
		}
		w.Write([]byte(okBody("ok")))
	})

	text, meta := c.GenerateInline(context.Background(), "p", nil, "image/jpeg", 0.0)
	assert.Equal(t, "ok", text)
	assert.True(t, meta.OK)
	require.Len(t, *slept, 1)
	assert.Equal(t, 3500*time.Millisecond, (*slept)[0], "body hint drives the wait")
}

func TestRetryAfterHeaderWins(t *testing.T) {
	var calls int
	c, slept := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(503)
			w.Write([]byte("busy"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(okBody("ok")))
	})

	_, meta := c.GenerateInline(context.Background(), "p", nil, "image/jpeg", 0.0)
	assert.True(t, meta.OK)
	require.Len(t, *slept, 1)
	assert.Equal(t, 2*time.Second, (*slept)[0])
}

func TestOtherClientErrorsFailFast(t *testing.T) {
	var calls int
	c, slept := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(400)
		w.Write([]byte(`{"error":{"message":"invalid argument"}}`))
	})

	text, meta := c.GenerateInline(context.Background(), "p", nil, "image/jpeg", 0.0)
	assert.Empty(t, text)
	assert.False(t, meta.OK)
	assert.Equal(t, 400, meta.Status)
	assert.Equal(t, 1, calls, "a 400 is not retried")
	assert.Empty(t, *slept)
}

func TestRetriesExhaust(t *testing.T) {
	var calls int
	c, slept := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(500)
		w.Write([]byte("boom"))
	})

	_, meta := c.GenerateInline(context.Background(), "p", nil, "image/jpeg", 0.0)
	assert.False(t, meta.OK)
	assert.Equal(t, 3, calls, "maxRetries 2 means 3 attempts")
	require.Len(t, *slept, 2)
	assert.Equal(t, 800*time.Millisecond, (*slept)[0], "exponential backoff from 0.8s")
	assert.Equal(t, 1600*time.Millisecond, (*slept)[1])
}

func TestBackoffCeiling(t *testing.T) {
	assert.Equal(t, 12*time.Second, backoff(10))
}

func TestExtractLooseJSON(t *testing.T) {
	cases := map[string]string{
		"plain":  `{"type":"perfume"}`,
		"fenced": "```json\n{\"type\":\"perfume\"}\n```",
		"prose":  `Claro! Aquí está: {"type":"perfume"} espero que sirva`,
	}
	for name, in := range cases {
		got := ExtractLooseJSON(in)
		assert.JSONEq(t, `{"type":"perfume"}`, string(got), name)
	}

	assert.Nil(t, ExtractLooseJSON("no json here"))
	assert.Nil(t, ExtractLooseJSON(""))
}

func TestDisabledClient(t *testing.T) {
	c := NewClient(&config.Config{MMTimeoutSec: 10})
	assert.False(t, c.Enabled())
	_, meta := c.GenerateInline(context.Background(), "p", nil, "image/jpeg", 0.0)
	assert.False(t, meta.OK)
	assert.Contains(t, meta.Error, "missing")
}
