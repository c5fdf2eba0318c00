package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// QueuePrefix holds live, undelivered events.
	QueuePrefix = "queue/"
	// DeferredPrefix holds the timeout index, one key per wake second.
	DeferredPrefix = "deferred/"
	// WakeRecordKey is the single registry entry describing the armed wake timer.
	WakeRecordKey = "timers/wake"

	// WakeTimeLayout is lexicographically sortable at second precision.
	WakeTimeLayout = "2006-01-02T15:04:05Z"
)

// NewQueueKey returns a fresh queue slot key. UUIDv7 keeps keys ordered by creation time.
func NewQueueKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return QueuePrefix + id.String()
}

// DeferredKey returns the index key for the given wake time.
func DeferredKey(wakeAt time.Time) string {
	return DeferredPrefix + wakeAt.UTC().Truncate(time.Second).Format(WakeTimeLayout)
}

// ParseDeferredKey extracts the wake time from a deferred index key.
func ParseDeferredKey(key string) (time.Time, error) {
	stamp, ok := strings.CutPrefix(key, DeferredPrefix)
	if !ok {
		return time.Time{}, fmt.Errorf("key %q is not under %s", key, DeferredPrefix)
	}
	t, err := time.Parse(WakeTimeLayout, stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse wake time %q: %w", stamp, err)
	}
	return t, nil
}
