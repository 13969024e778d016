package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/developingchet/replybot/internal/apiclient"
	"github.com/rs/zerolog"
)

func TestXClient_Publish(t *testing.T) {
	var body map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/2/tweets" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"555","text":"nice"}}`))
	}))
	defer srv.Close()

	c := NewX(XConfig{BaseURL: srv.URL, BearerToken: "tok"}, zerolog.Nop())
	if err := c.Publish(context.Background(), "100", "nice"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if auth != "Bearer tok" {
		t.Errorf("Authorization: %q", auth)
	}
	if body["text"] != "nice" {
		t.Errorf("text: %v", body["text"])
	}
	reply, _ := body["reply"].(map[string]any)
	if reply["in_reply_to_tweet_id"] != "100" {
		t.Errorf("reply target: %v", body["reply"])
	}
}

func TestXClient_PublishRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewX(XConfig{BaseURL: srv.URL, BearerToken: "tok"}, zerolog.Nop())
	err := c.Publish(context.Background(), "100", "nice")
	var rl *apiclient.ErrRateLimit
	if !errors.As(err, &rl) {
		t.Fatalf("want ErrRateLimit, got %v", err)
	}
}

func TestNoop_LogsAndSucceeds(t *testing.T) {
	var buf bytes.Buffer
	n := NewNoop(zerolog.New(&buf))
	if err := n.Publish(context.Background(), "100", "hello there"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "[TEST MODE]") || !strings.Contains(out, "hello there") {
		t.Errorf("log output: %s", out)
	}
}
