package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"
)

const businessHoursKey = "business_hours"

// UpsertService inserts a service or, when ID is set, replaces the stored one.
func (db *DB) UpsertService(ctx context.Context, s *models.Service) error {
	now := time.Now()
	query := `INSERT INTO services (id, name, duration_minutes, price, requires_prepayment, is_active, created_at, updated_at)
              VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                duration_minutes = excluded.duration_minutes,
                price = excluded.price,
                requires_prepayment = excluded.requires_prepayment,
                is_active = excluded.is_active,
                updated_at = excluded.updated_at`
	result, err := db.ExecContext(ctx, query,
		s.ID, s.Name, s.DurationMinutes, s.Price, s.RequiresPrepayment, s.IsActive, toUnix(now), toUnix(now))
	if err != nil {
		return fmt.Errorf("failed to upsert service: %w", err)
	}
	if s.ID == 0 {
		if s.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		s.CreatedAt = fromUnix(toUnix(now))
	}
	s.UpdatedAt = fromUnix(toUnix(now))
	return nil
}

func (db *DB) GetService(ctx context.Context, id int64) (*models.Service, error) {
	query := `SELECT id, name, duration_minutes, price, requires_prepayment, is_active, created_at, updated_at
              FROM services WHERE id = ?`
	s, err := scanService(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("service %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return s, nil
}

func (db *DB) ListServices(ctx context.Context) ([]*models.Service, error) {
	query := `SELECT id, name, duration_minutes, price, requires_prepayment, is_active, created_at, updated_at
              FROM services ORDER BY name, id`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var services []*models.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

// DeactivateService is the only way to retire a service; rows are never removed.
func (db *DB) DeactivateService(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `UPDATE services SET is_active = 0, updated_at = ? WHERE id = ?`, toUnix(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate service: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("service %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanService(row rowScanner) (*models.Service, error) {
	var s models.Service
	var createdAt, updatedAt int64
	if err := row.Scan(&s.ID, &s.Name, &s.DurationMinutes, &s.Price, &s.RequiresPrepayment, &s.IsActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	s.CreatedAt = fromUnix(createdAt)
	s.UpdatedAt = fromUnix(updatedAt)
	return &s, nil
}

func (db *DB) UpsertClient(ctx context.Context, c *models.Client) error {
	now := time.Now()
	query := `INSERT INTO clients (id, name, phone, email, telegram_chat_id, created_at)
              VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                phone = excluded.phone,
                email = excluded.email,
                telegram_chat_id = excluded.telegram_chat_id`
	result, err := db.ExecContext(ctx, query, c.ID, c.Name, c.Phone, c.Email, c.TelegramChatID, toUnix(now))
	if err != nil {
		return fmt.Errorf("failed to upsert client: %w", err)
	}
	if c.ID == 0 {
		if c.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		c.CreatedAt = fromUnix(toUnix(now))
	}
	return nil
}

func (db *DB) GetClient(ctx context.Context, id int64) (*models.Client, error) {
	var c models.Client
	var createdAt int64
	query := `SELECT id, name, phone, email, telegram_chat_id, created_at FROM clients WHERE id = ?`
	err := db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.TelegramChatID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	c.CreatedAt = fromUnix(createdAt)
	return &c, nil
}

func (db *DB) UpsertProfessional(ctx context.Context, p *models.Professional) error {
	specialties, err := json.Marshal(nonNilIDs(p.Specialties))
	if err != nil {
		return fmt.Errorf("failed to encode specialties: %w", err)
	}
	schedule, err := json.Marshal(p.Schedule)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}

	now := time.Now()
	query := `INSERT INTO professionals (id, name, specialties, schedule, is_active, created_at, updated_at)
              VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                specialties = excluded.specialties,
                schedule = excluded.schedule,
                is_active = excluded.is_active,
                updated_at = excluded.updated_at`
	result, err := db.ExecContext(ctx, query,
		p.ID, p.Name, string(specialties), string(schedule), p.IsActive, toUnix(now), toUnix(now))
	if err != nil {
		return fmt.Errorf("failed to upsert professional: %w", err)
	}
	if p.ID == 0 {
		if p.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		p.CreatedAt = fromUnix(toUnix(now))
	}
	p.UpdatedAt = fromUnix(toUnix(now))
	return nil
}

func (db *DB) GetProfessional(ctx context.Context, id int64) (*models.Professional, error) {
	query := `SELECT id, name, specialties, schedule, is_active, created_at, updated_at
              FROM professionals WHERE id = ?`
	p, err := scanProfessional(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("professional %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get professional: %w", err)
	}
	return p, nil
}

// ListActiveProfessionals returns active professionals ordered by name, then id.
func (db *DB) ListActiveProfessionals(ctx context.Context) ([]*models.Professional, error) {
	query := `SELECT id, name, specialties, schedule, is_active, created_at, updated_at
              FROM professionals WHERE is_active = 1 ORDER BY name, id`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list professionals: %w", err)
	}
	defer rows.Close()

	var professionals []*models.Professional
	for rows.Next() {
		p, err := scanProfessional(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan professional: %w", err)
		}
		professionals = append(professionals, p)
	}
	return professionals, rows.Err()
}

func scanProfessional(row rowScanner) (*models.Professional, error) {
	var p models.Professional
	var specialties, schedule string
	var createdAt, updatedAt int64
	if err := row.Scan(&p.ID, &p.Name, &specialties, &schedule, &p.IsActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(specialties), &p.Specialties); err != nil {
		return nil, fmt.Errorf("decode specialties of professional %d: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(schedule), &p.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule of professional %d: %w", p.ID, err)
	}
	p.CreatedAt = fromUnix(createdAt)
	p.UpdatedAt = fromUnix(updatedAt)
	return &p, nil
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// SetBusinessHours stores the company schedule as a JSON blob.
func (db *DB) SetBusinessHours(ctx context.Context, hours models.WeeklySchedule) error {
	data, err := json.Marshal(hours)
	if err != nil {
		return fmt.Errorf("failed to encode business hours: %w", err)
	}
	query := `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
              ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, query, businessHoursKey, string(data), toUnix(time.Now())); err != nil {
		return fmt.Errorf("failed to save business hours: %w", err)
	}
	return nil
}

// GetBusinessHours returns the stored schedule; an unset schedule means closed every day.
func (db *DB) GetBusinessHours(ctx context.Context) (models.WeeklySchedule, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, businessHoursKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return models.WeeklySchedule{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load business hours: %w", err)
	}
	var hours models.WeeklySchedule
	if err := json.Unmarshal([]byte(value), &hours); err != nil {
		return nil, fmt.Errorf("failed to decode business hours: %w", err)
	}
	return hours, nil
}
