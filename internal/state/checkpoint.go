// Package state checkpoints the risk snapshot to disk so dashboards and
// post-mortems can read the last known risk posture after a crash. The
// checkpoint is informational: the engine never restores mode or breaker
// state from it automatically.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tradewerk/broker-router/internal/risk"
)

// SnapshotSource is the slice of the risk engine the checkpointer reads.
type SnapshotSource interface {
	Snapshot() risk.Snapshot
}

// Checkpointer periodically writes the risk snapshot to a JSON file,
// replacing it atomically via rename.
type Checkpointer struct {
	source   SnapshotSource
	dir      string
	interval time.Duration

	mu   sync.Mutex
	last risk.Snapshot
}

// NewCheckpointer creates a checkpointer writing into dir.
func NewCheckpointer(source SnapshotSource, dir string, interval time.Duration) (*Checkpointer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Checkpointer{source: source, dir: dir, interval: interval}, nil
}

// Run writes checkpoints on the configured interval until ctx is
// cancelled, then writes one final checkpoint.
func (c *Checkpointer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := c.Write(); err != nil {
				log.Printf("Final state checkpoint failed: %v", err)
			}
			return
		case <-ticker.C:
			if err := c.Write(); err != nil {
				log.Printf("State checkpoint failed: %v", err)
			}
		}
	}
}

// Write persists the current snapshot immediately.
func (c *Checkpointer) Write() error {
	snap := c.source.Snapshot()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	path := c.path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}

	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()
	return nil
}

// Load reads the last written checkpoint, if any.
func (c *Checkpointer) Load() (risk.Snapshot, error) {
	data, err := os.ReadFile(c.path())
	if err != nil {
		return risk.Snapshot{}, err
	}
	var snap risk.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return risk.Snapshot{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return snap, nil
}

func (c *Checkpointer) path() string {
	return filepath.Join(c.dir, "risk_state.json")
}
