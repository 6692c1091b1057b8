package models

import "time"

// NotificationChannel selects the delivery mechanism for a notification.
type NotificationChannel string

// Supported notification channels.
const (
	ChannelEmail NotificationChannel = "EMAIL"
	ChannelSMS   NotificationChannel = "SMS"
)

// NotificationAttachment is an inline file attached to an email notification.
type NotificationAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"-"`
}

// Notification is an outbound delivery request emitted by a workflow
// transition. Transitions append these to their result after persisting;
// the dispatcher drains and delivers them, so delivery failures can never
// roll back a committed state change.
type Notification struct {
	Channel     NotificationChannel      `json:"channel"`
	Recipient   string                   `json:"recipient"`
	Subject     string                   `json:"subject"`
	Body        string                   `json:"body"`
	Attachments []NotificationAttachment `json:"attachments,omitempty"`
	Reference   string                   `json:"reference"`
	EmittedAt   time.Time                `json:"emitted_at"`
}
