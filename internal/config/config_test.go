package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"salonbook/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("SALON_TG_TOKEN", "test_token")

	yamlContent := `
database:
  path: "test.db"
booking:
  timezone: "Europe/Moscow"
  allow_unassigned: true
notifications:
  dispatch_interval: 30s
  follow_up_after: 48h
channels:
  telegram:
    enabled: true
    bot_token: "${SALON_TG_TOKEN}"
business_hours:
  monday:
    open: true
    shifts:
      - start: "09:00"
        end: "18:00"
    lunch_start: "13:00"
    lunch_end: "14:00"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Channels.Telegram.BotToken != "test_token" {
		t.Errorf("expected bot_token test_token, got %s", cfg.Channels.Telegram.BotToken)
	}
	if cfg.Notifications.DispatchInterval != 30*time.Second {
		t.Errorf("expected dispatch interval 30s, got %s", cfg.Notifications.DispatchInterval)
	}
	if cfg.Notifications.FollowUpAfter != 48*time.Hour {
		t.Errorf("expected follow-up 48h, got %s", cfg.Notifications.FollowUpAfter)
	}
	if !cfg.Booking.AllowUnassigned {
		t.Errorf("expected allow_unassigned")
	}
	if cfg.Booking.Location().String() != "Europe/Moscow" {
		t.Errorf("unexpected location %s", cfg.Booking.Location())
	}

	mon, ok := cfg.BusinessHours.Day(time.Monday)
	if !ok || !mon.HasLunch() {
		t.Errorf("expected monday open with lunch, got %+v", mon)
	}
}

func TestValidateConfig(t *testing.T) {
	oneShift := models.WeeklySchedule{
		time.Monday: {Open: true, Shifts: []models.Shift{{Start: "09:00", End: "18:00"}}},
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Database:      DatabaseConfig{Path: "path"},
				BusinessHours: oneShift,
			},
			wantErr: false,
		},
		{
			name:    "missing database path",
			cfg:     Config{},
			wantErr: true,
		},
		{
			name: "telegram enabled without token",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Channels: ChannelsConfig{Telegram: TelegramConfig{Enabled: true}},
			},
			wantErr: true,
		},
		{
			name: "email enabled without key",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Channels: ChannelsConfig{Email: EmailConfig{Enabled: true, FromEmail: "a@b.c"}},
			},
			wantErr: true,
		},
		{
			name: "unknown timezone",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Booking:  BookingConfig{Timezone: "Mars/Olympus"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBusinessHours(t *testing.T) {
	tests := []struct {
		name    string
		hours   models.WeeklySchedule
		wantErr bool
	}{
		{
			name: "closed day ignored",
			hours: models.WeeklySchedule{
				time.Sunday: {Open: false},
			},
		},
		{
			name: "two shifts",
			hours: models.WeeklySchedule{
				time.Monday: {Open: true, Shifts: []models.Shift{{Start: "09:00", End: "12:00"}, {Start: "13:00", End: "18:00"}}},
			},
			wantErr: true,
		},
		{
			name: "inverted shift",
			hours: models.WeeklySchedule{
				time.Monday: {Open: true, Shifts: []models.Shift{{Start: "18:00", End: "09:00"}}},
			},
			wantErr: true,
		},
		{
			name: "lunch outside shift",
			hours: models.WeeklySchedule{
				time.Monday: {
					Open:       true,
					Shifts:     []models.Shift{{Start: "09:00", End: "12:00"}},
					LunchStart: "13:00",
					LunchEnd:   "14:00",
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBusinessHours(tt.hours)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBusinessHours() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Booking.MinAdvance != time.Hour {
		t.Errorf("expected min advance 1h, got %s", cfg.Booking.MinAdvance)
	}
	if cfg.Booking.CancelWindow != 2*time.Hour {
		t.Errorf("expected cancel window 2h, got %s", cfg.Booking.CancelWindow)
	}
	if cfg.Booking.SlotStepMinutes != models.SlotStepMinutes {
		t.Errorf("expected slot step %d, got %d", models.SlotStepMinutes, cfg.Booking.SlotStepMinutes)
	}
	if cfg.Notifications.BatchSize != 100 || cfg.Notifications.MaxRetries != 3 {
		t.Errorf("unexpected dispatch defaults: %+v", cfg.Notifications)
	}
	if cfg.Notifications.DispatchInterval != time.Minute {
		t.Errorf("expected dispatch interval 1m, got %s", cfg.Notifications.DispatchInterval)
	}
	if cfg.Notifications.ScanInterval != 5*time.Minute {
		t.Errorf("expected scan interval 5m, got %s", cfg.Notifications.ScanInterval)
	}
	if cfg.Notifications.Backoff.InitialDelay != 0 {
		t.Errorf("expected no backoff by default")
	}
	if cfg.API.HTTP.Port != 8080 {
		t.Errorf("expected default HTTP port 8080, got %d", cfg.API.HTTP.Port)
	}
	if cfg.Booking.Location() != time.UTC {
		t.Errorf("expected UTC default location")
	}
}

func TestValidateCatalog(t *testing.T) {
	week := models.WeeklySchedule{
		time.Monday: {Open: true, Shifts: []models.Shift{{Start: "09:00", End: "12:00"}, {Start: "13:00", End: "18:00"}}},
	}
	valid := func() Catalog {
		return Catalog{
			Services: []models.Service{
				{ID: 1, Name: "Haircut", DurationMinutes: 60, IsActive: true},
				{ID: 2, Name: "Coloring", DurationMinutes: 90, Price: 80, RequiresPrepayment: true},
			},
			Professionals: []models.Professional{
				{ID: 1, Name: "Anna", Specialties: []int64{1, 2}, Schedule: week, IsActive: true},
			},
			Clients: []models.Client{{ID: 1, Name: "Maria", Phone: "+100"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Catalog)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Catalog) {}},
		{name: "service without id", mutate: func(c *Catalog) { c.Services[0].ID = 0 }, wantErr: true},
		{name: "duplicate service", mutate: func(c *Catalog) { c.Services[1].ID = 1 }, wantErr: true},
		{name: "zero duration", mutate: func(c *Catalog) { c.Services[0].DurationMinutes = 0 }, wantErr: true},
		{name: "unknown specialty", mutate: func(c *Catalog) { c.Professionals[0].Specialties = []int64{9} }, wantErr: true},
		{name: "open day without shifts", mutate: func(c *Catalog) {
			c.Professionals[0].Schedule = models.WeeklySchedule{time.Tuesday: {Open: true}}
		}, wantErr: true},
		{name: "client without name", mutate: func(c *Catalog) { c.Clients[0].Name = " " }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := ValidateCatalog(c)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCatalog() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
