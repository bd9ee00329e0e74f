package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/convoflowhq/convoflow/internal/model"
	"github.com/convoflowhq/convoflow/internal/tracing"
)

// Caller performs the external HTTP calls of verification and submission
// stages. Unexpected statuses come back as *model.ExternalCallError so the
// workflow can branch on the failure without string matching.
type Caller struct {
	log    *slog.Logger
	client *http.Client
}

func NewCaller(log *slog.Logger) *Caller {
	return &Caller{
		log:    log,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Verify renders the configured template against the captured fields and
// checks the response status. The response body is returned for context
// building on success.
func (c *Caller) Verify(ctx context.Context, cfg model.VerifyConfig, fields map[string]string) (_ string, err error) {
	ctx, span := tracing.Start(ctx, "external.verify", attribute.String("url", cfg.TargetURL))
	defer func() { tracing.End(span, err) }()

	body := RenderTemplate(cfg.Template, fields)
	method := cfg.Template.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.TargetURL, bytes.NewReader([]byte(body)))
	if err != nil {
		return "", fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Template.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &model.ExternalCallError{Operation: "verify", URL: cfg.TargetURL, Expected: cfg.ExpectedStatus, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	expected := cfg.ExpectedStatus
	if expected == 0 {
		expected = http.StatusOK
	}
	if resp.StatusCode != expected {
		return "", &model.ExternalCallError{
			Operation: "verify",
			URL:       cfg.TargetURL,
			Status:    resp.StatusCode,
			Expected:  expected,
			Body:      string(raw),
		}
	}
	c.log.Info("external verification passed", "url", cfg.TargetURL, "status", resp.StatusCode)
	return string(raw), nil
}

// Execute submits the captured data to the external system. Fields are
// renamed through the configured mappings; unmapped fields pass through.
// The generated summary and the optional unique identifier ride along.
func (c *Caller) Execute(ctx context.Context, cfg model.ExecuteConfig, fields map[string]string, summary string) (_ string, err error) {
	ctx, span := tracing.Start(ctx, "external.submit", attribute.String("url", cfg.URL))
	defer func() { tracing.End(span, err) }()

	payload := make(map[string]string, len(fields)+2)
	mapped := make(map[string]bool, len(cfg.FieldMappings))
	for _, m := range cfg.FieldMappings {
		if v, ok := fields[m.SourceKey]; ok {
			payload[m.TargetKey] = v
			mapped[m.SourceKey] = true
		}
	}
	for k, v := range fields {
		if !mapped[k] {
			payload[k] = v
		}
	}
	if cfg.SummaryField != "" {
		payload[cfg.SummaryField] = summary
	}
	if cfg.UniqueIdentifierField != "" && cfg.UniqueIdentifier != "" {
		payload[cfg.UniqueIdentifierField] = cfg.UniqueIdentifier
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &model.ExternalCallError{Operation: "submit", URL: cfg.URL, Expected: http.StatusOK, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &model.ExternalCallError{
			Operation: "submit",
			URL:       cfg.URL,
			Status:    resp.StatusCode,
			Expected:  http.StatusOK,
			Body:      string(respBody),
		}
	}
	c.log.Info("external submission accepted", "url", cfg.URL, "status", resp.StatusCode)
	return string(respBody), nil
}
