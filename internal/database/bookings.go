package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"
)

const bookingColumns = `id, client_id, service_id, professional_id, starts_at, duration_minutes, status, notes,
	payment_status, payment_amount, payment_reference, cancel_reason, created_at, updated_at, version`

// Пересечение с подтвержденными записями того же мастера или общего календаря.
// Для professional_id = 0 проверяются все мастера.
const overlapPredicate = `status = 'confirmed' AND starts_at < ? AND ends_at > ? AND id != ?
	AND (? = 0 OR professional_id = ? OR professional_id = 0)`

type execQuerier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, db, id)
}

func getBooking(ctx context.Context, q execQuerier, id int64) (*models.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// CreateBookingWithLock inserts the booking inside an immediate transaction.
// A confirmed booking is rejected with a ConflictError when it overlaps
// another confirmed booking on the same professional or the shared calendar.
func (db *DB) CreateBookingWithLock(ctx context.Context, booking *models.Booking) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if booking.Status == models.StatusConfirmed {
			if err := checkOverlapTx(ctx, tx, booking); err != nil {
				return err
			}
		}

		if booking.PaymentStatus == "" {
			booking.PaymentStatus = models.PaymentStatusNone
		}

		now := fromUnix(toUnix(time.Now()))
		query := `INSERT INTO bookings (
				client_id, service_id, professional_id, starts_at, ends_at, duration_minutes,
				status, notes, payment_status, payment_amount, payment_reference, cancel_reason,
				created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`
		result, err := tx.ExecContext(ctx, query,
			booking.ClientID,
			booking.ServiceID,
			booking.ProfessionalID,
			toUnix(booking.StartsAt),
			toUnix(booking.EndsAt()),
			booking.DurationMinutes,
			booking.Status,
			booking.Notes,
			booking.PaymentStatus,
			booking.PaymentAmount,
			booking.PaymentReference,
			booking.CancelReason,
			toUnix(now),
			toUnix(now),
		)
		if err != nil {
			return fmt.Errorf("failed to insert booking in tx: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id in tx: %w", err)
		}
		booking.ID = id
		booking.CreatedAt = now
		booking.UpdatedAt = now
		booking.Version = 1
		return nil
	})
}

// UpdateBookingWithVersion writes every mutable field when the stored version
// matches booking.Version. Nothing is written on any error.
func (db *DB) UpdateBookingWithVersion(ctx context.Context, booking *models.Booking) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if booking.Status == models.StatusConfirmed {
			if err := checkOverlapTx(ctx, tx, booking); err != nil {
				return err
			}
		}

		now := fromUnix(toUnix(time.Now()))
		query := `UPDATE bookings SET
				professional_id = ?, starts_at = ?, ends_at = ?, duration_minutes = ?,
				status = ?, notes = ?, payment_status = ?, payment_amount = ?,
				payment_reference = ?, cancel_reason = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`
		result, err := tx.ExecContext(ctx, query,
			booking.ProfessionalID,
			toUnix(booking.StartsAt),
			toUnix(booking.EndsAt()),
			booking.DurationMinutes,
			booking.Status,
			booking.Notes,
			booking.PaymentStatus,
			booking.PaymentAmount,
			booking.PaymentReference,
			booking.CancelReason,
			toUnix(now),
			booking.ID,
			booking.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to update booking: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			if _, err := getBooking(ctx, tx, booking.ID); err != nil {
				return err
			}
			return domain.ErrConcurrentModification
		}

		booking.Version++
		booking.UpdatedAt = now
		return nil
	})
}

func checkOverlapTx(ctx context.Context, tx *sql.Tx, booking *models.Booking) error {
	overlapping, err := findOverlapping(ctx, tx, &booking.ProfessionalID, booking.StartsAt, booking.EndsAt(), booking.ID)
	if err != nil {
		return fmt.Errorf("failed to check availability in tx: %w", err)
	}
	if len(overlapping) == 0 {
		return nil
	}
	conflicts := make([]domain.Conflict, 0, len(overlapping))
	for _, existing := range overlapping {
		conflicts = append(conflicts, domain.Conflict{
			Kind:           domain.ConflictProfessionalBusy,
			Message:        "time slot already taken",
			BookingID:      existing.ID,
			ProfessionalID: existing.ProfessionalID,
			StartsAt:       existing.StartsAt,
		})
	}
	return domain.NewConflictError(conflicts)
}

// FindOverlapping returns confirmed bookings intersecting [start, end) that
// block the given professional: their own bookings plus shared-calendar ones.
// A nil or zero professional means every booking blocks.
func (db *DB) FindOverlapping(ctx context.Context, professionalID *int64, start, end time.Time, excludeID int64) ([]*models.Booking, error) {
	return findOverlapping(ctx, db, professionalID, start, end, excludeID)
}

func findOverlapping(ctx context.Context, q execQuerier, professionalID *int64, start, end time.Time, excludeID int64) ([]*models.Booking, error) {
	var pid int64
	if professionalID != nil {
		pid = *professionalID
	}
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + overlapPredicate + ` ORDER BY starts_at, id`
	rows, err := q.QueryContext(ctx, query, toUnix(end), toUnix(start), excludeID, pid, pid)
	if err != nil {
		return nil, fmt.Errorf("failed to find overlapping bookings: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// ListBookings returns bookings matching the filter ordered by start time.
func (db *DB) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	var where []string
	var args []interface{}

	if filter.ClientID != 0 {
		where = append(where, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.ProfessionalID != nil {
		where = append(where, "professional_id = ?")
		args = append(args, *filter.ProfessionalID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Statuses)), ",")
		where = append(where, "status IN ("+placeholders+")")
		for _, s := range filter.Statuses {
			args = append(args, s)
		}
	}
	if !filter.From.IsZero() {
		where = append(where, "starts_at >= ?")
		args = append(args, toUnix(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "starts_at < ?")
		args = append(args, toUnix(filter.To))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY starts_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

func collectBookings(rows *sql.Rows) ([]*models.Booking, error) {
	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var startsAt, createdAt, updatedAt int64
	err := row.Scan(
		&b.ID, &b.ClientID, &b.ServiceID, &b.ProfessionalID, &startsAt, &b.DurationMinutes,
		&b.Status, &b.Notes, &b.PaymentStatus, &b.PaymentAmount, &b.PaymentReference,
		&b.CancelReason, &createdAt, &updatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.StartsAt = fromUnix(startsAt)
	b.CreatedAt = fromUnix(createdAt)
	b.UpdatedAt = fromUnix(updatedAt)
	return &b, nil
}
