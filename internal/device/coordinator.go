package device

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"upc/presence/internal/domain"
)

// Mode is what the reader polls for: whether it should sit closed or wait
// for a badge to be presented.
type Mode int

const (
	ModeClosed        Mode = 0
	ModeAwaitingBadge Mode = 1
)

// Purposes a claim on the reader can be held for.
const (
	PurposeSession      = "session"
	PurposeRegistration = "registration"
)

const (
	modeKey     = "device:mode"
	claimKey    = "device:claim"
	lastScanKey = "device:last_scan"

	// ScanChannel carries every badge id the reader reports.
	ScanChannel = "device:scans"
	// SessionEventChannel carries full session snapshots on open/close.
	SessionEventChannel = "session:events"
)

// Coordinator mediates access to the single RFID reader through redis. One
// claim at a time: session ingestion and registration capture cannot both
// hold the reader.
type Coordinator struct {
	redis *redis.Client
}

func NewCoordinator(client *redis.Client) *Coordinator {
	return &Coordinator{redis: client}
}

// Acquire takes the reader for the given purpose and arms it. A held claim
// makes the second caller fail with a Concurrency error rather than
// silently stealing the reader.
func (c *Coordinator) Acquire(ctx context.Context, purpose string) error {
	ok, err := c.redis.SetNX(ctx, claimKey, purpose, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		holder, err := c.redis.Get(ctx, claimKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		return domain.Concurrency(fmt.Sprintf("device_claimed_by_%s", holder))
	}
	return c.redis.Set(ctx, modeKey, int(ModeAwaitingBadge), 0).Err()
}

// Release gives the reader back and closes it. Only the claim holder may
// release; a mismatched purpose is a no-op so a stale caller cannot tear
// down someone else's claim.
func (c *Coordinator) Release(ctx context.Context, purpose string) error {
	holder, err := c.redis.Get(ctx, claimKey).Result()
	if err == redis.Nil {
		return c.redis.Set(ctx, modeKey, int(ModeClosed), 0).Err()
	}
	if err != nil {
		return err
	}
	if holder != purpose {
		return nil
	}
	if err := c.redis.Del(ctx, claimKey).Err(); err != nil {
		return err
	}
	return c.redis.Set(ctx, modeKey, int(ModeClosed), 0).Err()
}

// Reset force-clears the claim and the scan mailbox and closes the
// reader. The claim has no TTL, so one surviving a crash would block
// every Acquire forever; callers run this at startup when nothing in the
// store says the reader should be armed.
func (c *Coordinator) Reset(ctx context.Context) error {
	if err := c.redis.Del(ctx, claimKey, lastScanKey).Err(); err != nil {
		return err
	}
	return c.redis.Set(ctx, modeKey, int(ModeClosed), 0).Err()
}

func (c *Coordinator) Mode(ctx context.Context) (Mode, error) {
	value, err := c.redis.Get(ctx, modeKey).Int()
	if err == redis.Nil {
		return ModeClosed, nil
	}
	if err != nil {
		return ModeClosed, err
	}
	return Mode(value), nil
}

// StoreScan records the latest badge id in the single-slot mailbox and
// fans it out on the scan channel. The slot holds one value: a new scan
// overwrites an unconsumed one, matching the reader's last-write-wins
// behaviour.
func (c *Coordinator) StoreScan(ctx context.Context, badgeID string) error {
	if err := c.redis.Set(ctx, lastScanKey, badgeID, 0).Err(); err != nil {
		return err
	}
	return c.redis.Publish(ctx, ScanChannel, badgeID).Err()
}

// ConsumeScan reads and clears the scan mailbox in one step. Clearing is
// the acknowledgement: the reader knows the scan was taken when the slot
// comes back empty.
func (c *Coordinator) ConsumeScan(ctx context.Context) (string, bool, error) {
	value, err := c.redis.GetDel(ctx, lastScanKey).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// PublishSessionEvent broadcasts a full session snapshot so dashboards can
// swap state wholesale instead of patching deltas.
func (c *Coordinator) PublishSessionEvent(ctx context.Context, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.redis.Publish(ctx, SessionEventChannel, data).Err()
}

// SubscribeScans returns a pub/sub subscription on the scan channel. The
// caller owns the subscription and must Close it.
func (c *Coordinator) SubscribeScans(ctx context.Context) *redis.PubSub {
	return c.redis.Subscribe(ctx, ScanChannel)
}
