package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func completionResponse(content string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"content":%q},"finish_reason":"stop"}]}`, content)
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestOpenAIClientComplete(t *testing.T) {
	var gotReq chatCompletionRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, completionResponse("hello there"))
	}))
	defer srv.Close()

	c := NewOpenAIClient("test", "sk-test", srv.URL, "test-model")
	out, err := c.Complete(context.Background(), Request{
		System:     "be brief",
		Prompt:     "say hello",
		JSONOutput: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello there" {
		t.Errorf("content = %q", out)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotReq.Model != "test-model" {
		t.Errorf("model = %q, want default", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %+v", gotReq.ResponseFormat)
	}
}

func TestOpenAIClientRetriesRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, completionResponse("finally"))
	}))
	defer srv.Close()

	c := NewOpenAIClient("test", "k", srv.URL, "m")
	c.retryConfig = fastRetry()

	out, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "finally" || calls != 3 {
		t.Errorf("out = %q after %d calls", out, calls)
	}
}

func TestOpenAIClientDoesNotRetryClientError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewOpenAIClient("test", "k", srv.URL, "m")
	c.retryConfig = fastRetry()

	if _, err := c.Complete(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("client error retried %d times", calls)
	}
}

func TestOpenAIClientSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"model overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient("test", "k", srv.URL, "m")
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("err = %v", err)
	}
}
