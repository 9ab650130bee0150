package notification

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"salonbook/internal/domain"
	"salonbook/internal/models"
)

// Базовые имена встроенных шаблонов, ключ реестра дополняется каналом
const (
	TemplateBookingConfirmation = "booking_confirmation"
	TemplateBookingReminder     = "booking_reminder"
	TemplateBookingCancelled    = "booking_cancelled"
	TemplateFollowUp            = "follow_up"
	TemplatePromotion           = "promotion"
)

var placeholderRe = regexp.MustCompile(`{{\s*(\w+)\s*}}`)

// Registry is the template catalog. It is built once at startup and passed
// explicitly to the scheduler and dispatcher; mutation goes through Add,
// Update and Remove.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]models.NotificationTemplate
}

func NewRegistry(templates ...models.NotificationTemplate) *Registry {
	r := &Registry{templates: make(map[string]models.NotificationTemplate, len(templates))}
	for _, t := range templates {
		r.templates[t.Name] = t
	}
	return r
}

var baseTemplates = []models.NotificationTemplate{
	{
		Name:              TemplateBookingConfirmation,
		Type:              models.NotificationConfirmation,
		Subject:           "Booking confirmed",
		RequiredVariables: []string{"client_name", "service_name", "date", "time"},
		Body:              "Hello {{client_name}}! Your {{service_name}} is booked for {{date}} at {{time}}. See you at {{business_name}}.",
	},
	{
		Name:              TemplateBookingReminder,
		Type:              models.NotificationReminder,
		Subject:           "Appointment reminder",
		RequiredVariables: []string{"client_name", "service_name", "date", "time"},
		Body:              "Hi {{client_name}}, a reminder that your {{service_name}} is on {{date}} at {{time}}.",
	},
	{
		Name:              TemplateBookingCancelled,
		Type:              models.NotificationCancellation,
		Subject:           "Booking cancelled",
		RequiredVariables: []string{"client_name", "service_name", "date"},
		Body:              "{{client_name}}, your {{service_name}} on {{date}} has been cancelled. {{reason}}",
	},
	{
		Name:              TemplateFollowUp,
		Type:              models.NotificationFollowUp,
		Subject:           "How was your visit?",
		RequiredVariables: []string{"client_name", "service_name"},
		Body:              "Thank you for visiting {{business_name}}, {{client_name}}! How did you like your {{service_name}}?",
	},
	{
		Name:              TemplatePromotion,
		Type:              models.NotificationPromotion,
		Subject:           "{{title}}",
		RequiredVariables: []string{"client_name", "title", "text"},
		Body:              "{{client_name}}, {{text}}",
	},
}

// TemplateName is the registry key of a base template on a channel,
// e.g. "booking_reminder_telegram".
func TemplateName(base, channel string) string {
	return base + "_" + channel
}

// DefaultRegistry returns every built-in template for every channel.
func DefaultRegistry() *Registry {
	channelList := []string{models.ChannelTelegram, models.ChannelEmail, models.ChannelLog}
	templates := make([]models.NotificationTemplate, 0, len(baseTemplates)*len(channelList))
	for _, base := range baseTemplates {
		for _, channel := range channelList {
			t := base
			t.Name = TemplateName(base.Name, channel)
			t.Channel = channel
			t.RequiredVariables = append([]string(nil), base.RequiredVariables...)
			templates = append(templates, t)
		}
	}
	return NewRegistry(templates...)
}

func (r *Registry) Get(name string) (models.NotificationTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	return t, ok
}

// Add registers a new template. Returns ErrInvalidTemplate if the name is taken.
func (r *Registry) Add(t models.NotificationTemplate) error {
	if err := checkTemplate(t); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[t.Name]; exists {
		return fmt.Errorf("%w: template %q already exists", domain.ErrInvalidTemplate, t.Name)
	}
	r.templates[t.Name] = t
	return nil
}

// Update replaces an existing template.
func (r *Registry) Update(t models.NotificationTemplate) error {
	if err := checkTemplate(t); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[t.Name]; !exists {
		return fmt.Errorf("template %q: %w", t.Name, domain.ErrNotFound)
	}
	r.templates[t.Name] = t
	return nil
}

func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[name]; !exists {
		return false
	}
	delete(r.templates, name)
	return true
}

// Names returns template names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkTemplate(t models.NotificationTemplate) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", domain.ErrInvalidTemplate)
	}
	switch t.Channel {
	case models.ChannelTelegram, models.ChannelEmail, models.ChannelLog:
	default:
		return fmt.Errorf("%w: unknown channel %q", domain.ErrInvalidTemplate, t.Channel)
	}
	return nil
}

// Render substitutes {{var}} placeholders. Missing variables render as "".
func Render(text string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(token string) string {
		name := placeholderRe.FindStringSubmatch(token)[1]
		return vars[name]
	})
}

// MissingVariables lists required variables absent from vars.
func MissingVariables(t models.NotificationTemplate, vars map[string]string) []string {
	var missing []string
	for _, name := range t.RequiredVariables {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
