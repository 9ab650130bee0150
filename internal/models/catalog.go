package models

import "time"

type Service struct {
	ID                 int64     `yaml:"id" json:"id"`
	Name               string    `yaml:"name" json:"name"`
	DurationMinutes    int       `yaml:"duration_minutes" json:"duration_minutes"`
	Price              float64   `yaml:"price" json:"price"`
	RequiresPrepayment bool      `yaml:"requires_prepayment" json:"requires_prepayment"`
	IsActive           bool      `yaml:"is_active" json:"is_active"`
	CreatedAt          time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt          time.Time `yaml:"updated_at" json:"updated_at"`
}

type Client struct {
	ID             int64     `yaml:"id" json:"id"`
	Name           string    `yaml:"name" json:"name"`
	Phone          string    `yaml:"phone" json:"phone"`
	Email          string    `yaml:"email" json:"email"`
	TelegramChatID int64     `yaml:"telegram_chat_id" json:"telegram_chat_id"`
	CreatedAt      time.Time `yaml:"created_at" json:"created_at"`
}

type Professional struct {
	ID          int64          `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Specialties []int64        `yaml:"specialties" json:"specialties"`
	Schedule    WeeklySchedule `yaml:"schedule" json:"schedule"`
	IsActive    bool           `yaml:"is_active" json:"is_active"`
	CreatedAt   time.Time      `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `yaml:"updated_at" json:"updated_at"`
}

// HasSpecialty reports whether the professional performs the service.
func (p *Professional) HasSpecialty(serviceID int64) bool {
	for _, id := range p.Specialties {
		if id == serviceID {
			return true
		}
	}
	return false
}
