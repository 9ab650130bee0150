package models

import "time"

type NotificationType string

const (
	NotificationReminder     NotificationType = "reminder"
	NotificationConfirmation NotificationType = "confirmation"
	NotificationCancellation NotificationType = "cancellation"
	NotificationFollowUp     NotificationType = "follow_up"
	NotificationPromotion    NotificationType = "promotion"
)

// ScheduledNotification is a queued outbound message. Rows are never deleted;
// cancellation is a status write.
type ScheduledNotification struct {
	ID            int64             `json:"id"`
	ClientID      int64             `json:"client_id"`
	BookingID     int64             `json:"booking_id,omitempty"`
	Type          NotificationType  `json:"type"`
	Channel       string            `json:"channel"`
	ScheduledFor  time.Time         `json:"scheduled_for"`
	Status        string            `json:"status"`
	TemplateName  string            `json:"template_name"`
	Variables     map[string]string `json:"variables"`
	RetryCount    int               `json:"retry_count"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	ExternalID    string            `json:"external_id,omitempty"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
	NextAttemptAt *time.Time        `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NotificationTemplate is a static catalog entry.
type NotificationTemplate struct {
	Name              string           `yaml:"name" json:"name"`
	Type              NotificationType `yaml:"type" json:"type"`
	Channel           string           `yaml:"channel" json:"channel"`
	Subject           string           `yaml:"subject" json:"subject"`
	RequiredVariables []string         `yaml:"required_variables" json:"required_variables"`
	Body              string           `yaml:"body" json:"body"`
}
