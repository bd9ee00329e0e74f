package window

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/convoflowhq/convoflow/internal/kv"
)

// fastConfig keeps the protocol shape but collapses the waits so tests run
// in milliseconds.
func fastConfig() Config {
	return Config{
		SessionWindowTTL: time.Minute,
		ColdWindowTTL:    time.Minute,
		SessionSleep:     20 * time.Millisecond,
		ColdSleep:        20 * time.Millisecond,
		ExtensionGrace:   10 * time.Millisecond,
		ClaimPollBase:    5 * time.Millisecond,
		ClaimPollMax:     3,
	}
}

func TestCollectSingleMessage(t *testing.T) {
	c := New(kv.NewMemory(), fastConfig())

	out, err := c.Collect(context.Background(), "c1", "hello", false)
	if err != nil {
		t.Fatal(err)
	}
	if out.Buffered {
		t.Fatal("sole message was buffered")
	}
	if out.MergedText != "hello" {
		t.Errorf("MergedText = %q, want hello", out.MergedText)
	}
}

func TestCollectCoalescesRapidMessages(t *testing.T) {
	c := New(kv.NewMemory(), fastConfig())
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		opener  Outcome
		openErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		opener, openErr = c.Collect(ctx, "c1", "first", false)
	}()

	// The second message lands while the opener's window sleep is running.
	time.Sleep(5 * time.Millisecond)
	follower, err := c.Collect(ctx, "c1", "second", false)
	if err != nil {
		t.Fatal(err)
	}
	if !follower.Buffered {
		t.Error("follower was not buffered")
	}

	wg.Wait()
	if openErr != nil {
		t.Fatal(openErr)
	}
	if opener.Buffered {
		t.Fatal("opener came back buffered")
	}
	if opener.MergedText != "first. second" {
		t.Errorf("MergedText = %q, want %q", opener.MergedText, "first. second")
	}
}

func TestTryOpenWindowMutualExclusion(t *testing.T) {
	c := New(kv.NewMemory(), fastConfig())
	ctx := context.Background()

	const racers = 16
	opened := make(chan bool, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.TryOpenWindow(ctx, "c1", time.Minute)
			if err != nil {
				t.Error(err)
				return
			}
			opened <- ok
		}()
	}
	wg.Wait()
	close(opened)

	owners := 0
	for ok := range opened {
		if ok {
			owners++
		}
	}
	if owners != 1 {
		t.Errorf("%d concurrent openers won the window, want exactly 1", owners)
	}
}

func TestClaimDrainsBufferExactlyOnce(t *testing.T) {
	c := New(kv.NewMemory(), fastConfig())
	ctx := context.Background()

	if _, err := c.PushToBuffer(ctx, "c1", "hi", time.Minute); err != nil {
		t.Fatal(err)
	}

	first, err := c.Claim(ctx, "c1")
	if err != nil || !first {
		t.Fatalf("first Claim = (%v, %v), want (true, nil)", first, err)
	}
	second, err := c.Claim(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if second {
		t.Error("second Claim also succeeded")
	}

	texts, _ := c.ProcessingContent(ctx, "c1")
	if len(texts) != 1 || texts[0] != "hi" {
		t.Errorf("processing content = %v", texts)
	}
}

func TestCollectFailsLoudlyOnStuckClaim(t *testing.T) {
	store := kv.NewMemory()
	c := New(store, fastConfig())
	ctx := context.Background()

	// A prior worker left its claim behind and never cleared it.
	if _, err := store.RPush(ctx, "process:c1", "stale", time.Hour); err != nil {
		t.Fatal(err)
	}

	_, err := c.Collect(ctx, "c1", "hello", true)
	if !errors.Is(err, ErrClaimWaitExceeded) {
		t.Errorf("err = %v, want ErrClaimWaitExceeded", err)
	}
}

func TestCollectWaitsOutPriorClaim(t *testing.T) {
	store := kv.NewMemory()
	c := New(store, fastConfig())
	ctx := context.Background()

	if _, err := store.RPush(ctx, "process:c1", "stale", time.Hour); err != nil {
		t.Fatal(err)
	}
	// The prior worker finishes while the opener is backing off.
	go func() {
		time.Sleep(8 * time.Millisecond)
		c.DeleteProcessingKey(ctx, "c1")
	}()

	out, err := c.Collect(ctx, "c1", "hello", true)
	if err != nil {
		t.Fatal(err)
	}
	if out.MergedText != "hello" {
		t.Errorf("MergedText = %q, want hello", out.MergedText)
	}
}

func TestCollectHonorsContextCancellation(t *testing.T) {
	c := New(kv.NewMemory(), fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Collect(ctx, "c1", "hello", false)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
