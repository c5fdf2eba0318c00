package schema

import "time"

// Notification announces that keys under the queue prefix changed.
type Notification struct {
	Key       string    `json:"key"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNotification creates a Notification stamped with the current time.
func NewNotification(key, reason string) Notification {
	return Notification{Key: key, Reason: reason, CreatedAt: time.Now().UTC()}
}

// Marshal encodes the notification as JSON.
func (n Notification) Marshal() ([]byte, error) {
	return json.Marshal(n)
}

// UnmarshalNotification decodes a notification body.
func UnmarshalNotification(data []byte) (Notification, error) {
	var n Notification
	err := json.Unmarshal(data, &n)
	return n, err
}
