// Package progress exposes partial recipe snapshots to polling clients.
//
// One Cache works over either backend; the caller picks the Store at
// startup. With the memory backend snapshots never expire, so every
// terminal path must call Cleanup.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

const (
	snapshotPrefix = "generation:progress:"
	terminalPrefix = "generation:terminal:"

	// DefaultSnapshotTTL applies to snapshots on the durable backend
	DefaultSnapshotTTL = time.Hour
	// DefaultMarkerTTL bounds how long a finished run can be looked up
	DefaultMarkerTTL = 15 * time.Minute

	contentCredit = 40
	imageCredit   = 60
)

// Options configures a Cache
type Options struct {
	// SnapshotTTL of zero keeps snapshots until Cleanup.
	SnapshotTTL time.Duration
	MarkerTTL   time.Duration
	Backend     string
}

// StepUpdate names the step a write is about. SetImage with an empty
// ImageRef clears that step's image.
type StepUpdate struct {
	Index    int
	ImageRef string
	SetImage bool
}

// Touched marks a step as updated without changing its image
func Touched(index int) *StepUpdate {
	return &StepUpdate{Index: index}
}

// Image attaches ref to the step at index
func Image(index int, ref string) *StepUpdate {
	return &StepUpdate{Index: index, ImageRef: ref, SetImage: true}
}

// ClearImage removes the image of the step at index
func ClearImage(index int) *StepUpdate {
	return &StepUpdate{Index: index, SetImage: true}
}

// Cache stores one evolving snapshot per request id
type Cache struct {
	store Store
	opts  Options
	log   *zap.Logger
	now   func() time.Time
}

func New(store Store, log *zap.Logger, opts Options) *Cache {
	if opts.MarkerTTL <= 0 {
		opts.MarkerTTL = DefaultMarkerTTL
	}
	return &Cache{store: store, opts: opts, log: log, now: time.Now}
}

// Backend names the configured store
func (c *Cache) Backend() string {
	return c.opts.Backend
}

// ComputeProgress credits 40 for having content and spreads the other 60
// over the fraction of illustrated steps.
func ComputeProgress(steps []types.Step) int {
	if len(steps) == 0 {
		return contentCredit
	}
	illustrated := 0
	for _, s := range steps {
		if s.ImageRef != "" {
			illustrated++
		}
	}
	return contentCredit + imageCredit*illustrated/len(steps)
}

// ReadPartial returns the snapshot for requestID, or nil when none exists
func (c *Cache) ReadPartial(ctx context.Context, requestID string) (*types.ProgressSnapshot, error) {
	raw, ok, err := c.store.Get(ctx, snapshotPrefix+requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to read progress for %s: %w", requestID, err)
	}
	if !ok {
		return nil, nil
	}
	var snap types.ProgressSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode progress for %s: %w", requestID, err)
	}
	return &snap, nil
}

// WritePartial merges draft into the stored snapshot. Scalar fields come
// from draft; step images are kept from the previous snapshot unless
// update sets one. It reports whether the write reached the store.
func (c *Cache) WritePartial(ctx context.Context, requestID string, draft *types.RecipeDraft, update *StepUpdate) bool {
	log := c.log.With(zap.String("request_id", requestID))

	prev, err := c.ReadPartial(ctx, requestID)
	if err != nil {
		log.Warn("progress read before write failed", zap.Error(err))
		return false
	}

	next := draft.Clone()
	for i := range next.Steps {
		next.Steps[i].ImageRef = ""
		if prev != nil && prev.Draft != nil && i < len(prev.Draft.Steps) {
			next.Steps[i].ImageRef = prev.Draft.Steps[i].ImageRef
		}
	}

	snap := &types.ProgressSnapshot{RequestID: requestID}
	if prev != nil {
		snap.LastUpdatedStepIndex = prev.LastUpdatedStepIndex
	}
	if update != nil {
		if update.Index < 0 || update.Index >= len(next.Steps) {
			log.Warn("progress update for missing step", zap.Int("step", update.Index), zap.Int("steps", len(next.Steps)))
		} else {
			idx := update.Index
			snap.LastUpdatedStepIndex = &idx
			if update.SetImage {
				next.Steps[idx].ImageRef = update.ImageRef
			}
		}
	}

	snap.Draft = next
	snap.ProgressPercent = ComputeProgress(next.Steps)
	snap.IsPartial = snap.ProgressPercent < 100
	snap.UpdatedAt = c.now().UTC()

	raw, err := json.Marshal(snap)
	if err != nil {
		log.Error("failed to encode progress snapshot", zap.Error(err))
		return false
	}
	if err := c.store.Set(ctx, snapshotPrefix+requestID, raw, c.opts.SnapshotTTL); err != nil {
		log.Warn("progress write failed", zap.String("backend", c.opts.Backend), zap.Error(err))
		return false
	}
	return true
}

// Cleanup removes the snapshot for requestID
func (c *Cache) Cleanup(ctx context.Context, requestID string) error {
	if err := c.store.Delete(ctx, snapshotPrefix+requestID); err != nil {
		return fmt.Errorf("failed to clean up progress for %s: %w", requestID, err)
	}
	return nil
}

// MarkTerminal records how a run ended
func (c *Cache) MarkTerminal(ctx context.Context, requestID string, m types.TerminalMarker) error {
	if m.At.IsZero() {
		m.At = c.now().UTC()
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode terminal marker: %w", err)
	}
	if err := c.store.Set(ctx, terminalPrefix+requestID, raw, c.opts.MarkerTTL); err != nil {
		return fmt.Errorf("failed to write terminal marker for %s: %w", requestID, err)
	}
	return nil
}

// Terminal returns the terminal marker for requestID, or nil
func (c *Cache) Terminal(ctx context.Context, requestID string) (*types.TerminalMarker, error) {
	raw, ok, err := c.store.Get(ctx, terminalPrefix+requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to read terminal marker for %s: %w", requestID, err)
	}
	if !ok {
		return nil, nil
	}
	var m types.TerminalMarker
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode terminal marker for %s: %w", requestID, err)
	}
	return &m, nil
}

// Forget removes both the snapshot and the terminal marker
func (c *Cache) Forget(ctx context.Context, requestID string) error {
	if err := c.store.Delete(ctx, snapshotPrefix+requestID, terminalPrefix+requestID); err != nil {
		return fmt.Errorf("failed to forget %s: %w", requestID, err)
	}
	return nil
}
