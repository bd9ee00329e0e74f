package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/convoflowhq/convoflow/internal/model"
)

const graphVersion = "v24.0"

// ReplyDelivery is one outbound reply.
type ReplyDelivery struct {
	Platform   model.Platform
	Channel    model.Channel
	Credential *model.Credential
	// TargetID is the recipient user id for direct messages or the comment
	// id being replied to for comments.
	TargetID string
	Text     string
}

// Replier delivers generated replies to the originating platform.
type Replier struct {
	log    *slog.Logger
	client *http.Client

	// graphBase overrides the Graph API origin in tests.
	graphBase string

	mu   sync.Mutex
	bots map[string]*telego.Bot // telegram bots keyed by token
}

func NewReplier(log *slog.Logger) *Replier {
	return &Replier{
		log:    log,
		client: &http.Client{Timeout: 30 * time.Second},
		bots:   make(map[string]*telego.Bot),
	}
}

// WithGraphBase redirects Graph API calls to a different origin, e.g. a test
// server or proxy.
func (r *Replier) WithGraphBase(base string) *Replier {
	r.graphBase = base
	return r
}

// Send delivers the reply. Credential type mismatches are conflicts, not
// transport errors.
func (r *Replier) Send(ctx context.Context, d ReplyDelivery) error {
	if d.Credential == nil {
		return fmt.Errorf("reply to %s: %w: no credential", d.TargetID, model.ErrConflict)
	}
	want := model.RequiredCredential(d.Platform, d.Channel)
	if d.Credential.Type != want {
		return fmt.Errorf("reply on %s/%s needs %s credential: %w", d.Platform, d.Channel, want, model.ErrConflict)
	}

	switch {
	case d.Platform == model.PlatformTelegram:
		return r.sendTelegram(ctx, d)
	case d.Platform == model.PlatformWhatsapp:
		return r.sendWhatsapp(ctx, d)
	case d.Channel == model.ChannelComment:
		return r.sendMetaComment(ctx, d)
	default:
		return r.sendMetaDM(ctx, d)
	}
}

func (r *Replier) graphURL(host, path string) string {
	if r.graphBase != "" {
		return r.graphBase + path
	}
	return "https://" + host + path
}

func (r *Replier) sendMetaDM(ctx context.Context, d ReplyDelivery) error {
	host := "graph.facebook.com"
	if d.Platform == model.PlatformInstagram {
		host = "graph.instagram.com"
	}
	endpoint := r.graphURL(host, fmt.Sprintf("/%s/%s/messages", graphVersion, d.TargetID))

	recipient, _ := json.Marshal(map[string]string{"id": d.TargetID})
	message, _ := json.Marshal(map[string]string{"text": d.Text})
	form := url.Values{}
	form.Set("recipient", string(recipient))
	form.Set("message", string(message))

	return r.postForm(ctx, endpoint, form, d.Credential.Value, "dm", d)
}

func (r *Replier) sendMetaComment(ctx context.Context, d ReplyDelivery) error {
	edge := "comments"
	if d.Platform == model.PlatformInstagram {
		edge = "replies"
	}
	endpoint := r.graphURL("graph.facebook.com", fmt.Sprintf("/%s/%s/%s", graphVersion, d.TargetID, edge))

	form := url.Values{}
	form.Set("message", d.Text)
	form.Set("access_token", d.Credential.Value)

	return r.postForm(ctx, endpoint, form, "", "comment", d)
}

func (r *Replier) sendWhatsapp(ctx context.Context, d ReplyDelivery) error {
	// Cloud API: the credential value is "<phoneNumberID>:<token>".
	phoneID, token, ok := strings.Cut(d.Credential.Value, ":")
	if !ok {
		return fmt.Errorf("whatsapp credential is not phoneNumberID:token: %w", model.ErrConflict)
	}
	endpoint := r.graphURL("graph.facebook.com", fmt.Sprintf("/%s/%s/messages", graphVersion, phoneID))

	payload, _ := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                d.TargetID,
		"type":              "text",
		"text":              map[string]string{"body": d.Text},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send to %s: %w", d.TargetID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &model.ExternalCallError{
			Operation: "whatsapp reply",
			URL:       endpoint,
			Status:    resp.StatusCode,
			Expected:  http.StatusOK,
			Body:      string(body),
		}
	}
	r.log.Info("reply sent", "platform", d.Platform, "channel", d.Channel, "target", d.TargetID)
	return nil
}

func (r *Replier) sendTelegram(ctx context.Context, d ReplyDelivery) error {
	bot, err := r.telegramBot(d.Credential.Value)
	if err != nil {
		return fmt.Errorf("telegram bot: %w", err)
	}
	chatID, err := strconv.ParseInt(d.TargetID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram target %q is not a chat id: %w", d.TargetID, err)
	}
	if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), d.Text)); err != nil {
		return fmt.Errorf("telegram send to %s: %w", d.TargetID, err)
	}
	r.log.Info("reply sent", "platform", d.Platform, "channel", d.Channel, "target", d.TargetID)
	return nil
}

func (r *Replier) telegramBot(token string) (*telego.Bot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bot, ok := r.bots[token]; ok {
		return bot, nil
	}
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, err
	}
	r.bots[token] = bot
	return bot, nil
}

func (r *Replier) postForm(ctx context.Context, endpoint string, form url.Values, bearer, kind string, d ReplyDelivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build %s request: %w", kind, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s reply to %s: %w", kind, d.TargetID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &model.ExternalCallError{
			Operation: kind + " reply",
			URL:       endpoint,
			Status:    resp.StatusCode,
			Expected:  http.StatusOK,
			Body:      string(body),
		}
	}
	r.log.Info("reply sent", "platform", d.Platform, "channel", d.Channel, "target", d.TargetID)
	return nil
}
