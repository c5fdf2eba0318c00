package schema

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// QueueEntry is one slot of the live queue.
type QueueEntry struct {
	Key   string
	Value []byte
}

// triggerEntry mirrors the watch payload: values arrive base64 encoded, or null for deletions.
type triggerEntry struct {
	Key   string  `json:"Key"`
	Value *string `json:"Value"`
}

// ParseTrigger reads the watch payload. Empty input and the literal null are the
// "no changes" sentinel and produce no entries. Deleted keys and keys outside the
// queue prefix are dropped.
func ParseTrigger(r io.Reader) ([]QueueEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read trigger: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var raw []triggerEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode trigger: %w", err)
	}

	entries := make([]QueueEntry, 0, len(raw))
	for _, item := range raw {
		if item.Value == nil || !strings.HasPrefix(item.Key, QueuePrefix) {
			continue
		}
		// Values stay in their encoded form; DecodeEnvelope undoes the wrapping.
		entries = append(entries, QueueEntry{Key: item.Key, Value: []byte(*item.Value)})
	}
	return entries, nil
}
