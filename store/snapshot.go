package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"pricedrop-notifier/pkg/tracker"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
)

// FileSnapshotter persists the state as a single local JSON file, swapped
// in atomically via rename.
type FileSnapshotter struct {
	logger *slog.Logger
	path   string
}

// NewFileSnapshotter creates a snapshotter writing to the given path.
func NewFileSnapshotter(path string, logger *slog.Logger) *FileSnapshotter {
	return &FileSnapshotter{path: path, logger: logger}
}

// Save writes the snapshot to disk.
func (f *FileSnapshotter) Save(_ context.Context, state *tracker.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("swap snapshot: %w", err)
	}

	f.logger.Debug("State saved to local snapshot", "path", f.path, "products", len(state.Products))
	return nil
}

// Load reads the snapshot from disk; a missing file means no state yet.
func (f *FileSnapshotter) Load(_ context.Context) (*tracker.State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var state tracker.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

const (
	snapshotPrefix = "state-"
	keepSnapshots  = 5
)

// BucketSnapshotter persists versioned state snapshots to a Cloud Storage
// bucket. Save writes a new timestamped object and prunes old versions;
// Load picks the newest.
type BucketSnapshotter struct {
	client *storage.Client
	logger *slog.Logger
	bucket string
}

// NewBucketSnapshotter creates a snapshotter writing to the given bucket.
func NewBucketSnapshotter(client *storage.Client, bucket string, logger *slog.Logger) *BucketSnapshotter {
	return &BucketSnapshotter{client: client, bucket: bucket, logger: logger}
}

// Save writes the snapshot with retry logic for reliability, then prunes
// superseded versions best-effort.
func (b *BucketSnapshotter) Save(ctx context.Context, state *tracker.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	// Nanosecond keys are fixed-width for the process lifetime, so the
	// lexically greatest object is the newest.
	key := fmt.Sprintf("%s%d.json", snapshotPrefix, time.Now().UnixNano())

	err = retry.Do(
		func() error {
			w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					b.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			b.logger.Info("Retrying snapshot save after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	b.logger.Info("State saved", "key", key, "products", len(state.Products), "notifications", len(state.Notifications))
	b.prune(ctx)
	return nil
}

// Load reads the newest snapshot version from the bucket.
func (b *BucketSnapshotter) Load(ctx context.Context) (*tracker.State, error) {
	keys, err := b.listKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	key := keys[len(keys)-1]

	var data []byte
	err = retry.Do(
		func() error {
			r, openErr := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					b.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			b.logger.Info("Retrying snapshot load after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}

	var state tracker.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}

	b.logger.Info("State loaded from bucket", "key", key, "products", len(state.Products))
	return &state, nil
}

// listKeys returns all snapshot object names in lexical (oldest-first)
// order.
func (b *BucketSnapshotter) listKeys(ctx context.Context) ([]string, error) {
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{
		Prefix: snapshotPrefix,
	})

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		if !strings.HasSuffix(attrs.Name, ".json") {
			continue
		}
		keys = append(keys, attrs.Name)
	}

	sort.Strings(keys)
	return keys, nil
}

// prune deletes superseded snapshot versions, keeping the newest few.
// Failures only cost storage, so they are logged and ignored.
func (b *BucketSnapshotter) prune(ctx context.Context) {
	keys, err := b.listKeys(ctx)
	if err != nil {
		b.logger.Warn("Failed to list snapshots for pruning", "error", err)
		return
	}
	if len(keys) <= keepSnapshots {
		return
	}

	for _, key := range keys[:len(keys)-keepSnapshots] {
		if err := b.client.Bucket(b.bucket).Object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			b.logger.Warn("Failed to prune snapshot", "key", key, "error", err)
		}
	}
}

// DiscardSnapshotter keeps no durable state; the store then operates
// purely in memory for the process lifetime.
type DiscardSnapshotter struct{}

// NewDiscardSnapshotter creates a snapshotter that drops every save.
func NewDiscardSnapshotter() DiscardSnapshotter { return DiscardSnapshotter{} }

// Save discards the snapshot.
func (DiscardSnapshotter) Save(context.Context, *tracker.State) error { return nil }

// Load reports no persisted state.
func (DiscardSnapshotter) Load(context.Context) (*tracker.State, error) { return nil, nil }
