// Package window implements the per-conversation debounce and mutual
// exclusion coordinator. Bursts of inbound direct messages are buffered in
// the shared kv store and merged into a single processing turn; the atomic
// buffer→process rename guarantees at most one worker claims a turn.
package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/convoflowhq/convoflow/internal/kv"
	"github.com/convoflowhq/convoflow/internal/tracing"
)

// ErrClaimWaitExceeded is returned when a prior processing claim for the same
// conversation does not clear within the bounded wait. The caller fails loudly
// instead of polling forever.
var ErrClaimWaitExceeded = errors.New("timed out waiting for prior processing claim to clear")

// messageSeparator joins buffered texts in arrival order into one turn.
const messageSeparator = ". "

// Config tunes the debounce windows. Sessions already in flight presume a
// faster follow-up cadence, so they get the shorter TTL.
type Config struct {
	SessionWindowTTL time.Duration // buffer/window TTL when a session is bound
	ColdWindowTTL    time.Duration // buffer/window TTL for unbound conversations
	SessionSleep     time.Duration // debounce sleep when a session is bound
	ColdSleep        time.Duration // debounce sleep for unbound conversations
	ExtensionGrace   time.Duration // extra sleep when the window was extended
	ClaimPollBase    time.Duration // initial wait between processing-claim polls
	ClaimPollMax     int           // max polls before failing loudly
}

// DefaultConfig mirrors production tuning: 60/90s windows, 20/12s sleeps,
// 4s extension grace, claim polls starting at 2s.
func DefaultConfig() Config {
	return Config{
		SessionWindowTTL: 60 * time.Second,
		ColdWindowTTL:    90 * time.Second,
		SessionSleep:     20 * time.Second,
		ColdSleep:        12 * time.Second,
		ExtensionGrace:   4 * time.Second,
		ClaimPollBase:    2 * time.Second,
		ClaimPollMax:     6,
	}
}

// Outcome is the explicit result of submitting a message to the coordinator.
// Buffered means another turn will handle this message; it is a control
// signal, not an error.
type Outcome struct {
	Buffered   bool
	MergedText string
}

// Coordinator owns the buffer/window/extension/process keys of a conversation.
type Coordinator struct {
	store kv.Store
	cfg   Config
}

// New creates a window coordinator over the shared kv store.
func New(store kv.Store, cfg Config) *Coordinator {
	return &Coordinator{store: store, cfg: cfg}
}

func bufferKey(convID string) string    { return "buffer:" + convID }
func windowKey(convID string) string    { return "window:" + convID }
func extensionKey(convID string) string { return "extension:" + convID }
func processKey(convID string) string   { return "process:" + convID }

// PushToBuffer appends a message text to the conversation's buffer. The TTL
// applies only when the push creates the buffer.
func (c *Coordinator) PushToBuffer(ctx context.Context, convID, text string, ttl time.Duration) (int, error) {
	return c.store.RPush(ctx, bufferKey(convID), text, ttl)
}

// TryOpenWindow atomically opens the debounce window. Exactly one concurrent
// caller per conversation receives true and becomes the window owner.
func (c *Coordinator) TryOpenWindow(ctx context.Context, convID string, ttl time.Duration) (bool, error) {
	return c.store.SetNX(ctx, windowKey(convID), ttl)
}

// TryExtendWindow grants at most one extension per window.
func (c *Coordinator) TryExtendWindow(ctx context.Context, convID string, ttl time.Duration) (bool, error) {
	return c.store.SetNX(ctx, extensionKey(convID), ttl)
}

// WasExtended reports whether the current window received an extension.
func (c *Coordinator) WasExtended(ctx context.Context, convID string) (bool, error) {
	return c.store.Exists(ctx, extensionKey(convID))
}

// IsProcessing reports whether a processing claim exists for the conversation.
func (c *Coordinator) IsProcessing(ctx context.Context, convID string) (bool, error) {
	return c.store.Exists(ctx, processKey(convID))
}

// Claim atomically moves the buffer to the processing list. Returns false when
// the buffer is empty or another caller already claimed it; a non-owner must
// not drain the buffer.
func (c *Coordinator) Claim(ctx context.Context, convID string) (bool, error) {
	return c.store.RenameNX(ctx, bufferKey(convID), processKey(convID))
}

// ProcessingContent returns the claimed texts in arrival order.
func (c *Coordinator) ProcessingContent(ctx context.Context, convID string) ([]string, error) {
	return c.store.LRange(ctx, processKey(convID))
}

// DeleteProcessingKey clears the processing claim. Downstream handlers call
// this unconditionally in their cleanup path so a crashed worker never blocks
// the conversation permanently.
func (c *Coordinator) DeleteProcessingKey(ctx context.Context, convID string) error {
	return c.store.Del(ctx, processKey(convID))
}

// DeleteWindow clears the window and extension flags.
func (c *Coordinator) DeleteWindow(ctx context.Context, convID string) error {
	return c.store.Del(ctx, windowKey(convID), extensionKey(convID))
}

// Collect runs the window-opener protocol for one accepted inbound direct
// message. The returned outcome is either Buffered (another turn will pick
// the message up) or the merged turn text.
func (c *Coordinator) Collect(ctx context.Context, convID, text string, hasSession bool) (out Outcome, err error) {
	ctx, span := tracing.Start(ctx, "window.collect",
		attribute.String("conversation_id", convID),
		attribute.Bool("has_session", hasSession))
	defer func() {
		span.SetAttributes(attribute.Bool("buffered", out.Buffered))
		tracing.End(span, err)
	}()

	ttl := c.cfg.ColdWindowTTL
	sleep := c.cfg.ColdSleep
	if hasSession {
		ttl = c.cfg.SessionWindowTTL
		sleep = c.cfg.SessionSleep
	}

	bufferLen, err := c.PushToBuffer(ctx, convID, text, ttl)
	if err != nil {
		return Outcome{}, fmt.Errorf("push to buffer: %w", err)
	}

	opened, err := c.TryOpenWindow(ctx, convID, ttl)
	if err != nil {
		return Outcome{}, fmt.Errorf("open window: %w", err)
	}
	if !opened {
		slog.Debug("window already open", "conversation", convID, "buffered", bufferLen)
		if bufferLen > 1 {
			extended, err := c.TryExtendWindow(ctx, convID, ttl)
			if err != nil {
				return Outcome{}, fmt.Errorf("extend window: %w", err)
			}
			if extended {
				slog.Debug("window extended", "conversation", convID)
			}
		}
		return Outcome{Buffered: true}, nil
	}

	// Serialize with any in-flight turn. The wait is bounded: a crashed
	// worker that never cleared its claim must not livelock openers.
	if err := c.waitForPriorClaim(ctx, convID); err != nil {
		return Outcome{}, err
	}

	slog.Debug("response window open", "conversation", convID, "sleep", sleep)
	if err := sleepCtx(ctx, sleep); err != nil {
		return Outcome{}, err
	}

	extended, err := c.WasExtended(ctx, convID)
	if err != nil {
		return Outcome{}, fmt.Errorf("check extension: %w", err)
	}
	if extended {
		slog.Debug("extension detected", "conversation", convID, "grace", c.cfg.ExtensionGrace)
		if err := sleepCtx(ctx, c.cfg.ExtensionGrace); err != nil {
			return Outcome{}, err
		}
	}

	claimed, err := c.Claim(ctx, convID)
	if err != nil {
		return Outcome{}, fmt.Errorf("claim buffer: %w", err)
	}
	if err := c.DeleteWindow(ctx, convID); err != nil {
		return Outcome{}, fmt.Errorf("delete window: %w", err)
	}
	if !claimed {
		// Another opener already drained the buffer; nothing left for us.
		slog.Debug("buffer already claimed", "conversation", convID)
		return Outcome{Buffered: true}, nil
	}

	texts, err := c.ProcessingContent(ctx, convID)
	if err != nil {
		return Outcome{}, fmt.Errorf("read processing content: %w", err)
	}
	return Outcome{MergedText: strings.Join(texts, messageSeparator)}, nil
}

// waitForPriorClaim polls with exponential backoff until the prior processing
// claim clears or the bounded attempts are exhausted.
func (c *Coordinator) waitForPriorClaim(ctx context.Context, convID string) error {
	wait := c.cfg.ClaimPollBase
	for attempt := 0; ; attempt++ {
		processing, err := c.IsProcessing(ctx, convID)
		if err != nil {
			return fmt.Errorf("check processing claim: %w", err)
		}
		if !processing {
			return nil
		}
		if attempt >= c.cfg.ClaimPollMax {
			return fmt.Errorf("%w: conversation %s after %d attempts", ErrClaimWaitExceeded, convID, attempt)
		}
		slog.Warn("another worker is processing conversation, waiting",
			"conversation", convID, "attempt", attempt+1, "wait", wait)
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
		wait *= 2
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
