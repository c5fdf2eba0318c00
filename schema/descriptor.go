package schema

import (
	"errors"
	"fmt"
	"strings"
)

// TimeoutTarget maps a deferred-request type to the type re-delivered when it fires:
// the prefix and one following separator are stripped, "tmo_retry" becomes "retry".
// A bare prefix yields "timeout".
func TimeoutTarget(messageType, prefix string) string {
	rest := strings.TrimPrefix(messageType, prefix)
	if len(rest) > 0 && (rest[0] == '_' || rest[0] == '-') {
		rest = rest[1:]
	}
	if rest == "" {
		return "timeout"
	}
	return rest
}

// Descriptor identifies one deferred event inside a DeferredEntry.
type Descriptor struct {
	Target        string
	CorrelationID string
}

// String renders target@correlation.
func (d Descriptor) String() string {
	return d.Target + "@" + d.CorrelationID
}

// Validate rejects descriptors that cannot survive comma joining.
func (d Descriptor) Validate() error {
	if d.Target == "" {
		return errors.New("descriptor target is empty")
	}
	if strings.Contains(d.Target, ",") || strings.Contains(d.CorrelationID, ",") {
		return fmt.Errorf("descriptor %q contains a comma", d.String())
	}
	return nil
}

// Envelope is the event re-injected into the live queue when the descriptor fires.
func (d Descriptor) Envelope() Envelope {
	return NewEnvelope(d.Target, d.CorrelationID)
}

// ParseDescriptor splits target@correlation at the last '@'.
func ParseDescriptor(s string) (Descriptor, error) {
	i := strings.LastIndex(s, "@")
	if i <= 0 {
		return Descriptor{}, fmt.Errorf("invalid descriptor %q", s)
	}
	return Descriptor{Target: s[:i], CorrelationID: s[i+1:]}, nil
}
