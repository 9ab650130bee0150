package config

import (
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata" // timezone database for minimal images

	"salonbook/internal/models"
	"salonbook/internal/timewindow"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig             `yaml:"app"`
	Database      DatabaseConfig        `yaml:"database"`
	Redis         RedisConfig           `yaml:"redis"`
	Backup        BackupConfig          `yaml:"backup"`
	Monitoring    MonitoringConfig      `yaml:"monitoring"`
	Logging       LoggingConfig         `yaml:"logging"`
	API           APIConfig             `yaml:"api"`
	Booking       BookingConfig         `yaml:"booking"`
	BusinessHours models.WeeklySchedule `yaml:"business_hours"`
	Notifications NotificationsConfig   `yaml:"notifications"`
	Channels      ChannelsConfig        `yaml:"channels"`
	Catalog       CatalogConfig         `yaml:"catalog"`
	Exports       ExportConfig          `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// BookingConfig holds the booking rules.
type BookingConfig struct {
	Timezone        string        `yaml:"timezone"`
	MinAdvance      time.Duration `yaml:"min_advance"`
	CancelWindow    time.Duration `yaml:"cancel_window"`
	SlotStepMinutes int           `yaml:"slot_step_minutes"`
	MaxRangeDays    int           `yaml:"max_range_days"`
	AllowUnassigned bool          `yaml:"allow_unassigned"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
}

// Location resolves Timezone, falling back to UTC.
func (b BookingConfig) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type NotificationsConfig struct {
	DispatchInterval   time.Duration                `yaml:"dispatch_interval"`
	ScanInterval       time.Duration                `yaml:"scan_interval"`
	BatchSize          int                          `yaml:"batch_size"`
	MaxRetries         int                          `yaml:"max_retries"`
	ReminderLead       time.Duration                `yaml:"reminder_lead"`
	ReminderLookahead  time.Duration                `yaml:"reminder_lookahead"`
	ReminderFireWindow time.Duration                `yaml:"reminder_fire_window"`
	FollowUpAfter      time.Duration                `yaml:"follow_up_after"`
	BusinessName       string                       `yaml:"business_name"`
	DeadLetterKey      string                       `yaml:"dead_letter_key"`
	Backoff            BackoffConfig                `yaml:"backoff"`
	RateLimits         map[string]ChannelRateConfig `yaml:"rate_limits"`
}

// BackoffConfig delays retries. Zero InitialDelay retries on the next tick.
type BackoffConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Factor       float64       `yaml:"factor"`
}

type ChannelRateConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Email    EmailConfig    `yaml:"email"`
	Log      LogChannel     `yaml:"log"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

type EmailConfig struct {
	Enabled        bool   `yaml:"enabled"`
	SendGridAPIKey string `yaml:"sendgrid_api_key"`
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
}

type LogChannel struct {
	Enabled bool `yaml:"enabled"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes YAML (after environment expansion), applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Booking.Timezone != "" {
		if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
			return fmt.Errorf("invalid booking timezone %q: %w", c.Booking.Timezone, err)
		}
	}

	if c.Channels.Telegram.Enabled && c.Channels.Telegram.BotToken == "" {
		return errors.New("telegram bot token is required when the telegram channel is enabled")
	}
	if c.Channels.Email.Enabled && (c.Channels.Email.SendGridAPIKey == "" || c.Channels.Email.FromEmail == "") {
		return errors.New("sendgrid api key and from_email are required when the email channel is enabled")
	}

	return ValidateBusinessHours(c.BusinessHours)
}

// ValidateBusinessHours requires exactly one well-formed shift per open day
// and a lunch window inside it.
func ValidateBusinessHours(hours models.WeeklySchedule) error {
	for day, sched := range hours {
		if !sched.Open {
			continue
		}
		if len(sched.Shifts) != 1 {
			return fmt.Errorf("business hours for %s must have exactly one shift", day)
		}
		ref := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
		shift, err := timewindow.Window(ref, sched.Shifts[0].Start, sched.Shifts[0].End)
		if err != nil {
			return fmt.Errorf("business hours for %s: %w", day, err)
		}
		if sched.HasLunch() {
			lunch, err := timewindow.Window(ref, sched.LunchStart, sched.LunchEnd)
			if err != nil {
				return fmt.Errorf("lunch for %s: %w", day, err)
			}
			if !timewindow.Contains(shift, lunch) {
				return fmt.Errorf("lunch for %s is outside working hours", day)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "salonbook"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	// Booking defaults
	if c.Booking.MinAdvance == 0 {
		c.Booking.MinAdvance = models.MinBookingAdvanceMinutes * time.Minute
	}
	if c.Booking.CancelWindow == 0 {
		c.Booking.CancelWindow = models.CancelWindowMinutes * time.Minute
	}
	if c.Booking.SlotStepMinutes == 0 {
		c.Booking.SlotStepMinutes = models.SlotStepMinutes
	}
	if c.Booking.MaxRangeDays == 0 {
		c.Booking.MaxRangeDays = models.MaxAvailabilityRangeDays
	}
	if c.Booking.LockTTL == 0 {
		c.Booking.LockTTL = 10 * time.Second
	}

	// Notification defaults
	n := &c.Notifications
	if n.DispatchInterval == 0 {
		n.DispatchInterval = models.DispatchIntervalSeconds * time.Second
	}
	if n.ScanInterval == 0 {
		n.ScanInterval = models.ReminderScanIntervalSeconds * time.Second
	}
	if n.BatchSize == 0 {
		n.BatchSize = models.DispatchBatchSize
	}
	if n.MaxRetries == 0 {
		n.MaxRetries = models.MaxNotificationRetries
	}
	if n.ReminderLead == 0 {
		n.ReminderLead = models.ReminderLeadHours * time.Hour
	}
	if n.ReminderLookahead == 0 {
		n.ReminderLookahead = models.ReminderLookaheadDays * 24 * time.Hour
	}
	if n.ReminderFireWindow == 0 {
		n.ReminderFireWindow = models.ReminderFireWindowHours * time.Hour
	}
	if n.FollowUpAfter == 0 {
		n.FollowUpAfter = models.FollowUpDelayHours * time.Hour
	}
	if n.DeadLetterKey == "" {
		n.DeadLetterKey = "notifications:deadletter"
	}
	if n.Backoff.Factor == 0 {
		n.Backoff.Factor = 2
	}
	if n.BusinessName == "" {
		n.BusinessName = c.App.Name
	}

	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
