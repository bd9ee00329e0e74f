package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/convoflowhq/convoflow/internal/model"
)

// Alerter delivers human notifications. Webhook channels (email, slack,
// whatsapp) POST a channel-shaped JSON body to the configured target URL;
// telegram and discord go through operator bots configured at startup.
// Alert failures never fail the calling workflow: they are logged and
// swallowed here.
type Alerter struct {
	log     *slog.Logger
	client  *http.Client
	tgBot   *telego.Bot        // optional operator bot
	discord *discordgo.Session // optional operator session
}

func NewAlerter(log *slog.Logger) *Alerter {
	return &Alerter{
		log:    log,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// WithTelegram attaches the operator's Telegram bot for TELEGRAM alerts.
func (a *Alerter) WithTelegram(token string) error {
	bot, err := telego.NewBot(token)
	if err != nil {
		return err
	}
	a.tgBot = bot
	return nil
}

// WithDiscord attaches the operator's Discord session for DISCORD alerts.
func (a *Alerter) WithDiscord(botToken string) error {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return err
	}
	a.discord = session
	return nil
}

// Notify sends the alert. Errors are logged, never returned.
func (a *Alerter) Notify(ctx context.Context, cfg model.AlertConfig, message string) {
	var err error
	switch cfg.AlertChannel {
	case model.AlertTelegram:
		err = a.notifyTelegram(ctx, cfg.AlertTarget, message)
	case model.AlertDiscord:
		err = a.notifyDiscord(cfg.AlertTarget, message)
	case model.AlertEmail, model.AlertSlack, model.AlertWhatsapp:
		err = a.notifyWebhook(ctx, cfg, message)
	default:
		a.log.Error("unsupported alert channel", "channel", cfg.AlertChannel, "target", cfg.AlertTarget)
		return
	}
	if err != nil {
		a.log.Error("alert delivery failed", "channel", cfg.AlertChannel, "target", cfg.AlertTarget, "error", err)
		return
	}
	a.log.Info("alert sent", "channel", cfg.AlertChannel, "target", cfg.AlertTarget)
}

func (a *Alerter) notifyWebhook(ctx context.Context, cfg model.AlertConfig, message string) error {
	var body map[string]any
	switch cfg.AlertChannel {
	case model.AlertEmail:
		body = map[string]any{"subject": "Alert from conversation agent", "body": message}
	case model.AlertSlack:
		body = map[string]any{"text": message}
	case model.AlertWhatsapp:
		body = map[string]any{"message": message}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.AlertTarget, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &model.ExternalCallError{
			Operation: "alert webhook",
			URL:       cfg.AlertTarget,
			Status:    resp.StatusCode,
			Expected:  http.StatusOK,
			Body:      string(raw),
		}
	}
	return nil
}

func (a *Alerter) notifyTelegram(ctx context.Context, target, message string) error {
	if a.tgBot == nil {
		return model.ErrConflict
	}
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return err
	}
	_, err = a.tgBot.SendMessage(ctx, tu.Message(tu.ID(chatID), message))
	return err
}

func (a *Alerter) notifyDiscord(target, message string) error {
	if a.discord == nil {
		return model.ErrConflict
	}
	_, err := a.discord.ChannelMessageSend(target, message)
	return err
}
