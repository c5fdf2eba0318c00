package waker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/zoff-tech/go-recovery/pkg/store"
	"github.com/zoff-tech/go-recovery/pkg/telemetry"
	"github.com/zoff-tech/go-recovery/schema"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WakeRecord describes the armed timer process. It lives at schema.WakeRecordKey.
type WakeRecord struct {
	Token  string    `json:"token"`
	PID    int       `json:"pid"`
	WakeAt time.Time `json:"wake_at"`
}

// SpawnFunc starts a detached timer process and returns its pid.
type SpawnFunc func(executable string, args []string) (int, error)

// spawnTimer, signalTimer and aliveTimer are replaced in tests.
var (
	spawnTimer  SpawnFunc = spawnDetached
	signalTimer           = terminate
	aliveTimer            = isRunning
)

// ProcessWaker arms the wake-up as a detached child process, so the coordinator can exit
// between triggers. The child re-runs this binary as "wake --at <time> --token <token>".
type ProcessWaker struct {
	kv         store.KVStore
	queue      Pusher
	wakeType   string
	executable string
	extraArgs  []string
	now        func() time.Time
	logger     *slog.Logger
}

// NewProcessWaker creates a ProcessWaker. extraArgs are appended to the child command
// line, typically the --config flag.
func NewProcessWaker(kv store.KVStore, queue Pusher, wakeType string, extraArgs []string, logger *slog.Logger) (*ProcessWaker, error) {
	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &ProcessWaker{
		kv:         kv,
		queue:      queue,
		wakeType:   wakeType,
		executable: executable,
		extraArgs:  extraArgs,
		now:        time.Now,
		logger:     telemetry.OrDefault(logger).With("component", "waker"),
	}, nil
}

func (w *ProcessWaker) EnsureWake(ctx context.Context, wakeAt time.Time) error {
	current, found, err := w.Record(ctx)
	if err != nil {
		return err
	}
	if found && current.WakeAt.Equal(wakeAt) {
		if current.PID > 0 && aliveTimer(current.PID) {
			return nil
		}
		// Died before firing, or the pid was never recorded.
		w.logger.Warn("wake timer is gone, re-arming", "pid", current.PID, "wake_at", current.WakeAt)
	}

	if found {
		if current.PID > 0 {
			if err := signalTimer(current.PID); err != nil {
				w.logger.Debug("previous timer already gone", "pid", current.PID, "error", err)
			}
		}
		if err := w.kv.Delete(ctx, schema.WakeRecordKey); err != nil {
			return fmt.Errorf("clear wake record: %w", err)
		}
	}

	if !wakeAt.After(w.now()) {
		_, err := w.queue.Push(ctx, wakeEnvelope(w.wakeType, wakeAt))
		return err
	}

	// The record is written before the child starts so the child always finds its token.
	rec := WakeRecord{Token: uuid.NewString(), WakeAt: wakeAt.UTC()}
	if err := w.putRecord(ctx, rec); err != nil {
		return err
	}

	args := append([]string{"wake", "--at", rec.WakeAt.Format(time.RFC3339), "--token", rec.Token}, w.extraArgs...)
	pid, err := spawnTimer(w.executable, args)
	if err != nil {
		if delErr := w.kv.Delete(ctx, schema.WakeRecordKey); delErr != nil {
			w.logger.Warn("failed to clear wake record", "error", delErr)
		}
		return fmt.Errorf("spawn wake timer: %w", err)
	}

	rec.PID = pid
	if err := w.putRecord(ctx, rec); err != nil {
		return err
	}
	w.logger.Info("wake armed", "wake_at", rec.WakeAt, "pid", pid)
	return nil
}

// Fire is run by the timer process once its sleep ends. A timer whose token no longer
// matches the record was superseded and does nothing.
func (w *ProcessWaker) Fire(ctx context.Context, token string) (bool, error) {
	rec, found, err := w.Record(ctx)
	if err != nil {
		return false, err
	}
	if !found || rec.Token != token {
		w.logger.Info("wake timer superseded", "token", token)
		return false, nil
	}

	if _, err := w.queue.Push(ctx, wakeEnvelope(w.wakeType, rec.WakeAt)); err != nil {
		return false, err
	}
	if err := w.kv.Delete(ctx, schema.WakeRecordKey); err != nil {
		return true, fmt.Errorf("clear wake record: %w", err)
	}
	return true, nil
}

// Record loads the current wake record.
func (w *ProcessWaker) Record(ctx context.Context) (WakeRecord, bool, error) {
	data, err := w.kv.Get(ctx, schema.WakeRecordKey)
	if errors.Is(err, store.ErrNotFound) {
		return WakeRecord{}, false, nil
	}
	if err != nil {
		return WakeRecord{}, false, fmt.Errorf("read wake record: %w", err)
	}

	var rec WakeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt record cannot be matched by any timer; treat it as absent.
		w.logger.Warn("ignoring unreadable wake record", "error", err)
		return WakeRecord{}, true, nil
	}
	return rec, true, nil
}

func (w *ProcessWaker) putRecord(ctx context.Context, rec WakeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := w.kv.Put(ctx, schema.WakeRecordKey, data); err != nil {
		return fmt.Errorf("write wake record: %w", err)
	}
	return nil
}

// SleepUntil blocks until wakeAt or ctx cancellation.
func SleepUntil(ctx context.Context, wakeAt time.Time) error {
	timer := time.NewTimer(time.Until(wakeAt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
