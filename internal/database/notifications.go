package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/mattn/go-sqlite3"
)

const notificationColumns = `id, client_id, booking_id, type, channel, scheduled_for, status, template_name,
	variables, retry_count, error_message, external_id, sent_at, next_attempt_at, created_at, updated_at`

func (db *DB) CreateNotification(ctx context.Context, n *models.ScheduledNotification) error {
	variables, err := json.Marshal(n.Variables)
	if err != nil {
		return fmt.Errorf("failed to encode variables: %w", err)
	}
	if n.Variables == nil {
		variables = []byte("{}")
	}
	if n.Status == "" {
		n.Status = models.NotificationPending
	}

	now := fromUnix(toUnix(time.Now()))
	query := `INSERT INTO scheduled_notifications (
				client_id, booking_id, type, channel, scheduled_for, status, template_name,
				variables, retry_count, error_message, external_id, sent_at, next_attempt_at,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		n.ClientID,
		n.BookingID,
		string(n.Type),
		n.Channel,
		toUnix(n.ScheduledFor),
		n.Status,
		n.TemplateName,
		string(variables),
		n.RetryCount,
		n.ErrorMessage,
		n.ExternalID,
		nullableUnix(n.SentAt),
		nullableUnix(n.NextAttemptAt),
		toUnix(now),
		toUnix(now),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("booking %d %s: %w", n.BookingID, n.Type, domain.ErrAlreadyPending)
	}
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	n.ID = id
	n.ScheduledFor = fromUnix(toUnix(n.ScheduledFor))
	n.CreatedAt = now
	n.UpdatedAt = now
	return nil
}

func (db *DB) GetNotification(ctx context.Context, id int64) (*models.ScheduledNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM scheduled_notifications WHERE id = ?`
	n, err := scanNotification(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// FindDueNotifications returns pending rows whose fire time has come and whose
// retry budget is not exhausted, oldest first.
func (db *DB) FindDueNotifications(ctx context.Context, now time.Time, maxRetries, limit int) ([]*models.ScheduledNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM scheduled_notifications
              WHERE status = ? AND scheduled_for <= ? AND retry_count < ?
                AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
              ORDER BY scheduled_for, id
              LIMIT ?`
	rows, err := db.QueryContext(ctx, query,
		models.NotificationPending, toUnix(now), maxRetries, toUnix(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find due notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// MarkNotificationSent only transitions pending rows; a row cancelled while
// in flight yields ErrConcurrentModification.
func (db *DB) MarkNotificationSent(ctx context.Context, id int64, sentAt time.Time, externalID string) error {
	query := `UPDATE scheduled_notifications
              SET status = ?, sent_at = ?, external_id = ?, error_message = '', next_attempt_at = NULL, updated_at = ?
              WHERE id = ? AND status = ?`
	return db.updatePendingNotification(ctx, id, query,
		models.NotificationSent, toUnix(sentAt), externalID, toUnix(time.Now()), id, models.NotificationPending)
}

func (db *DB) MarkNotificationRetry(ctx context.Context, id int64, retryCount int, errMsg string, nextAttemptAt *time.Time) error {
	query := `UPDATE scheduled_notifications
              SET retry_count = ?, error_message = ?, next_attempt_at = ?, updated_at = ?
              WHERE id = ? AND status = ?`
	return db.updatePendingNotification(ctx, id, query,
		retryCount, errMsg, nullableUnix(nextAttemptAt), toUnix(time.Now()), id, models.NotificationPending)
}

func (db *DB) MarkNotificationFailed(ctx context.Context, id int64, retryCount int, errMsg string) error {
	query := `UPDATE scheduled_notifications
              SET status = ?, retry_count = ?, error_message = ?, next_attempt_at = NULL, updated_at = ?
              WHERE id = ? AND status = ?`
	return db.updatePendingNotification(ctx, id, query,
		models.NotificationFailed, retryCount, errMsg, toUnix(time.Now()), id, models.NotificationPending)
}

func (db *DB) updatePendingNotification(ctx context.Context, id int64, query string, args ...interface{}) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update notification %d: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("notification %d is no longer pending: %w", id, domain.ErrConcurrentModification)
	}
	return nil
}

// CancelPendingNotifications cancels the booking's pending rows, optionally
// restricted to the given types. Returns the number of rows cancelled.
func (db *DB) CancelPendingNotifications(ctx context.Context, bookingID int64, types ...models.NotificationType) (int64, error) {
	query := `UPDATE scheduled_notifications SET status = ?, updated_at = ?
              WHERE booking_id = ? AND status = ?`
	args := []interface{}{models.NotificationCancelled, toUnix(time.Now()), bookingID, models.NotificationPending}
	if len(types) > 0 {
		query += " AND type IN (" + strings.TrimSuffix(strings.Repeat("?,", len(types)), ",") + ")"
		for _, t := range types {
			args = append(args, string(t))
		}
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel notifications: %w", err)
	}
	return result.RowsAffected()
}

func (db *DB) HasPendingNotification(ctx context.Context, bookingID int64, notificationType models.NotificationType) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM scheduled_notifications WHERE booking_id = ? AND type = ? AND status = ?)`
	err := db.QueryRowContext(ctx, query, bookingID, string(notificationType), models.NotificationPending).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending notification: %w", err)
	}
	return exists, nil
}

func (db *DB) ListNotificationsByBooking(ctx context.Context, bookingID int64) ([]*models.ScheduledNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM scheduled_notifications WHERE booking_id = ? ORDER BY scheduled_for, id`
	rows, err := db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// ListNotificationsScheduledBetween is used by the export.
func (db *DB) ListNotificationsScheduledBetween(ctx context.Context, from, to time.Time) ([]*models.ScheduledNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM scheduled_notifications
              WHERE scheduled_for >= ? AND scheduled_for < ? ORDER BY scheduled_for, id`
	rows, err := db.QueryContext(ctx, query, toUnix(from), toUnix(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func collectNotifications(rows *sql.Rows) ([]*models.ScheduledNotification, error) {
	var out []*models.ScheduledNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanNotification(row rowScanner) (*models.ScheduledNotification, error) {
	var n models.ScheduledNotification
	var notificationType, variables string
	var scheduledFor, createdAt, updatedAt int64
	var sentAt, nextAttemptAt sql.NullInt64
	err := row.Scan(
		&n.ID, &n.ClientID, &n.BookingID, &notificationType, &n.Channel, &scheduledFor, &n.Status,
		&n.TemplateName, &variables, &n.RetryCount, &n.ErrorMessage, &n.ExternalID,
		&sentAt, &nextAttemptAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(variables), &n.Variables); err != nil {
		return nil, fmt.Errorf("decode variables of notification %d: %w", n.ID, err)
	}
	n.Type = models.NotificationType(notificationType)
	n.ScheduledFor = fromUnix(scheduledFor)
	n.SentAt = fromNullableUnix(sentAt)
	n.NextAttemptAt = fromNullableUnix(nextAttemptAt)
	n.CreatedAt = fromUnix(createdAt)
	n.UpdatedAt = fromUnix(updatedAt)
	return &n, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
