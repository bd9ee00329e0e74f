package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/convoflowhq/convoflow/internal/model"
)

func TestNotifyWebhookBodies(t *testing.T) {
	tests := []struct {
		channel model.AlertChannel
		check   func(t *testing.T, body map[string]any)
	}{
		{
			channel: model.AlertEmail,
			check: func(t *testing.T, body map[string]any) {
				if body["subject"] == "" || body["body"] != "new lead waiting" {
					t.Errorf("email body = %v", body)
				}
			},
		},
		{
			channel: model.AlertSlack,
			check: func(t *testing.T, body map[string]any) {
				if body["text"] != "new lead waiting" {
					t.Errorf("slack body = %v", body)
				}
			},
		},
		{
			channel: model.AlertWhatsapp,
			check: func(t *testing.T, body map[string]any) {
				if body["message"] != "new lead waiting" {
					t.Errorf("whatsapp body = %v", body)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.channel), func(t *testing.T) {
			var got map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewDecoder(r.Body).Decode(&got)
			}))
			defer srv.Close()

			a := NewAlerter(testLogger())
			a.Notify(context.Background(), model.AlertConfig{
				AlertTarget:  srv.URL,
				AlertChannel: tt.channel,
			}, "new lead waiting")

			if got == nil {
				t.Fatal("webhook never called")
			}
			tt.check(t, got)
		})
	}
}

func TestNotifySwallowsDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(testLogger())
	// Must not panic or propagate; alerts are best effort.
	a.Notify(context.Background(), model.AlertConfig{
		AlertTarget:  srv.URL,
		AlertChannel: model.AlertSlack,
	}, "boom")
}

func TestNotifyUnconfiguredBotChannels(t *testing.T) {
	a := NewAlerter(testLogger())
	// No operator bots attached; both paths log and return.
	a.Notify(context.Background(), model.AlertConfig{AlertTarget: "123", AlertChannel: model.AlertTelegram}, "x")
	a.Notify(context.Background(), model.AlertConfig{AlertTarget: "chan", AlertChannel: model.AlertDiscord}, "x")
}
