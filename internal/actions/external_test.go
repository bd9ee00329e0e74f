package actions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/convoflowhq/convoflow/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCallerVerify(t *testing.T) {
	var gotBody string
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := model.VerifyConfig{
		TargetURL:      srv.URL,
		ExpectedStatus: http.StatusNoContent,
		Template: model.CallTemplate{
			Method: http.MethodPut,
			Body:   `{"date":"{{date}}"}`,
		},
	}

	c := NewCaller(testLogger())
	if _, err := c.Verify(context.Background(), cfg, map[string]string{"date": "2026-09-12"}); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %s, want PUT", gotMethod)
	}
	if gotBody != `{"date":"2026-09-12"}` {
		t.Errorf("body = %s", gotBody)
	}
}

func TestCallerVerifyUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"reason":"slot taken"}`)
	}))
	defer srv.Close()

	c := NewCaller(testLogger())
	_, err := c.Verify(context.Background(), model.VerifyConfig{TargetURL: srv.URL}, nil)
	var callErr *model.ExternalCallError
	if !errors.As(err, &callErr) {
		t.Fatalf("err = %v, want *model.ExternalCallError", err)
	}
	if callErr.Status != http.StatusConflict || callErr.Expected != http.StatusOK {
		t.Errorf("status = %d expected = %d", callErr.Status, callErr.Expected)
	}
}

func TestCallerExecute(t *testing.T) {
	var payload map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&payload)
		io.WriteString(w, `{"leadId":"L-42"}`)
	}))
	defer srv.Close()

	cfg := model.ExecuteConfig{
		URL:       srv.URL,
		AuthToken: "tok-123",
		FieldMappings: []model.FieldMapping{
			{SourceKey: "email", TargetKey: "contact_email"},
		},
		SummaryField:          "notes",
		UniqueIdentifierField: "source",
		UniqueIdentifier:      "instagram-dm",
	}
	fields := map[string]string{"email": "ana@example.com", "name": "Ana"}

	c := NewCaller(testLogger())
	body, err := c.Execute(context.Background(), cfg, fields, "summary text")
	if err != nil {
		t.Fatal(err)
	}
	if body != `{"leadId":"L-42"}` {
		t.Errorf("response body = %s", body)
	}
	if auth != "Bearer tok-123" {
		t.Errorf("auth header = %q", auth)
	}
	if payload["contact_email"] != "ana@example.com" {
		t.Errorf("mapped field missing: %v", payload)
	}
	if _, ok := payload["email"]; ok {
		t.Error("mapped source key leaked through")
	}
	if payload["name"] != "Ana" {
		t.Error("unmapped field did not pass through")
	}
	if payload["notes"] != "summary text" || payload["source"] != "instagram-dm" {
		t.Errorf("summary/identifier missing: %v", payload)
	}
}

func TestCallerExecuteFailureCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream down")
	}))
	defer srv.Close()

	c := NewCaller(testLogger())
	_, err := c.Execute(context.Background(), model.ExecuteConfig{URL: srv.URL}, nil, "")
	var callErr *model.ExternalCallError
	if !errors.As(err, &callErr) {
		t.Fatalf("err = %v, want *model.ExternalCallError", err)
	}
	if callErr.Body != "upstream down" {
		t.Errorf("body = %q", callErr.Body)
	}
}
