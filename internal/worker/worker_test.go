package worker

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"salonbook/internal/channels"
	"salonbook/internal/config"
	"salonbook/internal/database"
	"salonbook/internal/domain"
	"salonbook/internal/models"
	"salonbook/internal/notification"
	"salonbook/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type fakeSender struct {
	err   error
	calls atomic.Int32
	last  domain.Message
}

func (f *fakeSender) Send(_ context.Context, msg domain.Message) (string, error) {
	f.calls.Add(1)
	f.last = msg
	if f.err != nil {
		return "", f.err
	}
	return "ext-1", nil
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func nopLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func seedClient(t *testing.T, db *database.DB) *models.Client {
	t.Helper()
	c := &models.Client{Name: "Anna", Email: "anna@example.com", TelegramChatID: 555}
	if err := db.UpsertClient(context.Background(), c); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	return c
}

func seedNotification(t *testing.T, db *database.DB, clientID int64, at time.Time) *models.ScheduledNotification {
	t.Helper()
	n := &models.ScheduledNotification{
		ClientID:     clientID,
		BookingID:    at.Unix(),
		Type:         models.NotificationReminder,
		Channel:      models.ChannelTelegram,
		ScheduledFor: at,
		TemplateName: notification.TemplateName(notification.TemplateBookingReminder, models.ChannelTelegram),
		Variables:    map[string]string{"client_name": "Anna", "service_name": "Haircut", "date": "01.06", "time": "10:00"},
	}
	if err := db.CreateNotification(context.Background(), n); err != nil {
		t.Fatalf("seed notification: %v", err)
	}
	return n
}

func newDispatcher(db *database.DB, sender domain.ChannelSender, cfg DispatcherConfig, now time.Time) *Dispatcher {
	d := NewDispatcher(db, db, notification.DefaultRegistry(), sender, cfg, nopLogger())
	d.now = func() time.Time { return now }
	return d
}

func TestProcessDueSuccess(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)
	client := seedClient(t, db)
	n := seedNotification(t, db, client.ID, now.Add(-time.Minute))

	sender := &fakeSender{}
	stats, err := newDispatcher(db, sender, DispatcherConfig{}, now).ProcessDue(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if stats.Selected != 1 || stats.Sent != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if sender.last.Recipient != "555" {
		t.Fatalf("expected telegram chat id recipient, got %q", sender.last.Recipient)
	}
	if sender.last.Body != "Hi Anna, a reminder that your Haircut is on 01.06 at 10:00." {
		t.Fatalf("unexpected body %q", sender.last.Body)
	}

	got, _ := db.GetNotification(ctx, n.ID)
	if got.Status != models.NotificationSent {
		t.Fatalf("expected status=sent, got %s", got.Status)
	}
	if got.ExternalID != "ext-1" || got.SentAt == nil {
		t.Fatalf("expected external id and sent_at, got %+v", got)
	}
}

func TestProcessDueSkipsFutureRows(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)
	client := seedClient(t, db)
	seedNotification(t, db, client.ID, now.Add(time.Hour))

	sender := &fakeSender{}
	stats, err := newDispatcher(db, sender, DispatcherConfig{}, now).ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if stats.Selected != 0 || sender.calls.Load() != 0 {
		t.Fatalf("future notification must not be sent, stats %+v", stats)
	}
}

func TestProcessDueRetriesThenFails(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)
	client := seedClient(t, db)
	n := seedNotification(t, db, client.ID, now.Add(-time.Minute))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	dlq := repository.NewRedisDeadLetterQueue(rdb, "notifications:deadletter")

	sender := &fakeSender{err: errors.New("telegram timeout")}
	d := newDispatcher(db, sender, DispatcherConfig{}, now)
	d.SetDeadLetterSink(dlq)

	for attempt := 1; attempt <= 2; attempt++ {
		if _, err := d.ProcessDue(ctx); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		got, _ := db.GetNotification(ctx, n.ID)
		if got.Status != models.NotificationPending || got.RetryCount != attempt {
			t.Fatalf("attempt %d: expected pending/%d, got %s/%d", attempt, attempt, got.Status, got.RetryCount)
		}
		if got.NextAttemptAt != nil {
			t.Fatalf("linear retry must not set next_attempt_at")
		}
	}

	stats, err := d.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("third attempt: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("expected failure on third attempt, got %+v", stats)
	}
	got, _ := db.GetNotification(ctx, n.ID)
	if got.Status != models.NotificationFailed || got.RetryCount != 3 {
		t.Fatalf("expected failed/3, got %s/%d", got.Status, got.RetryCount)
	}
	if got.ErrorMessage != "telegram timeout" {
		t.Fatalf("expected error message, got %q", got.ErrorMessage)
	}

	stats, _ = d.ProcessDue(ctx)
	if stats.Selected != 0 {
		t.Fatalf("failed notification must never be selected again")
	}
	if sender.calls.Load() != 3 {
		t.Fatalf("expected exactly 3 send attempts, got %d", sender.calls.Load())
	}

	dead, err := dlq.List(ctx, 10)
	if err != nil {
		t.Fatalf("list dlq: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != n.ID {
		t.Fatalf("expected notification in dead-letter list, got %+v", dead)
	}
}

func TestProcessDueBackoffDefersRetry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)
	client := seedClient(t, db)
	n := seedNotification(t, db, client.ID, now.Add(-time.Minute))

	sender := &fakeSender{err: errors.New("down")}
	d := newDispatcher(db, sender, DispatcherConfig{Retry: RetryPolicy{InitialDelay: 5 * time.Minute}}, now)
	d.ProcessDue(ctx)

	got, _ := db.GetNotification(ctx, n.ID)
	if got.NextAttemptAt == nil || !got.NextAttemptAt.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("expected next attempt in 5m, got %v", got.NextAttemptAt)
	}

	stats, _ := d.ProcessDue(ctx)
	if stats.Selected != 0 {
		t.Fatalf("deferred row must wait for next_attempt_at")
	}

	d.now = func() time.Time { return now.Add(6 * time.Minute) }
	stats, _ = d.ProcessDue(ctx)
	if stats.Selected != 1 {
		t.Fatalf("row should be due again after the delay")
	}
}

func TestProcessDueNonRetryable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)
	client := seedClient(t, db)

	missingTemplate := seedNotification(t, db, client.ID, now.Add(-3*time.Minute))
	registry := notification.DefaultRegistry()
	registry.Remove(notification.TemplateName(notification.TemplateBookingReminder, models.ChannelTelegram))

	unknownClient := &models.ScheduledNotification{
		ClientID: 999, Type: models.NotificationConfirmation, Channel: models.ChannelTelegram,
		ScheduledFor: now.Add(-2 * time.Minute), TemplateName: notification.TemplateName(notification.TemplateBookingConfirmation, models.ChannelTelegram),
	}
	db.CreateNotification(ctx, unknownClient)

	noEmail := &models.Client{Name: "Bob", TelegramChatID: 1}
	db.UpsertClient(ctx, noEmail)
	noRecipient := &models.ScheduledNotification{
		ClientID: noEmail.ID, Type: models.NotificationFollowUp, Channel: models.ChannelEmail,
		ScheduledFor: now.Add(-time.Minute), TemplateName: notification.TemplateName(notification.TemplateFollowUp, models.ChannelEmail),
	}
	db.CreateNotification(ctx, noRecipient)

	sender := &fakeSender{}
	d := NewDispatcher(db, db, registry, sender, DispatcherConfig{}, nopLogger())
	d.now = func() time.Time { return now }

	stats, err := d.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if stats.Failed != 3 {
		t.Fatalf("expected 3 immediate failures, got %+v", stats)
	}
	if sender.calls.Load() != 0 {
		t.Fatalf("sender must not be called")
	}
	for _, id := range []int64{missingTemplate.ID, unknownClient.ID, noRecipient.ID} {
		got, _ := db.GetNotification(ctx, id)
		if got.Status != models.NotificationFailed {
			t.Fatalf("notification %d: expected failed, got %s", id, got.Status)
		}
	}
}

func TestProcessDuePermanentSendError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)
	client := seedClient(t, db)
	n := seedNotification(t, db, client.ID, now.Add(-time.Minute))

	sender := &fakeSender{err: channels.Permanent(errors.New("chat not found"))}
	newDispatcher(db, sender, DispatcherConfig{}, now).ProcessDue(ctx)

	got, _ := db.GetNotification(ctx, n.ID)
	if got.Status != models.NotificationFailed || got.RetryCount != 1 {
		t.Fatalf("expected failed/1, got %s/%d", got.Status, got.RetryCount)
	}
}

func TestProcessDueRateLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)
	client := seedClient(t, db)
	for i := 0; i < 3; i++ {
		seedNotification(t, db, client.ID, now.Add(-time.Duration(i+1)*time.Minute))
	}

	sender := &fakeSender{}
	d := newDispatcher(db, sender, DispatcherConfig{
		RateLimits: map[string]config.ChannelRateConfig{models.ChannelTelegram: {RPS: 0.001, Burst: 1}},
	}, now)

	stats, _ := d.ProcessDue(ctx)
	if stats.Sent != 1 || stats.Skipped != 2 {
		t.Fatalf("expected 1 sent and 2 skipped, got %+v", stats)
	}

	pending, _ := db.FindDueNotifications(ctx, now, 3, 10)
	for _, p := range pending {
		if p.RetryCount != 0 {
			t.Fatalf("rate-limited rows must be left untouched")
		}
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 rows left pending, got %d", len(pending))
	}
}

func TestProcessDueBatchOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)
	client := seedClient(t, db)
	late := seedNotification(t, db, client.ID, now.Add(-time.Minute))
	early := seedNotification(t, db, client.ID, now.Add(-time.Hour))

	sender := &fakeSender{}
	stats, _ := newDispatcher(db, sender, DispatcherConfig{BatchSize: 1}, now).ProcessDue(ctx)
	if stats.Sent != 1 || sender.last.NotificationID != early.ID {
		t.Fatalf("expected oldest notification first, sent %d", sender.last.NotificationID)
	}
	got, _ := db.GetNotification(ctx, late.ID)
	if got.Status != models.NotificationPending {
		t.Fatalf("batch limit exceeded")
	}
}

func TestDispatcherStartStop(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)
	client := seedClient(t, db)
	seedNotification(t, db, client.ID, now.Add(-time.Minute))

	sender := &fakeSender{}
	d := newDispatcher(db, sender, DispatcherConfig{Interval: time.Hour}, now)
	ticks := make(chan time.Time)
	d.loop.newTicker = func(time.Duration) (<-chan time.Time, func()) { return ticks, func() {} }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	ticks <- now
	d.Stop()
	d.Stop()

	if sender.calls.Load() != 1 {
		t.Fatalf("expected one delivery across start and tick, got %d", sender.calls.Load())
	}
}

type fakeReminders struct {
	calls []int64
}

func (f *fakeReminders) ScheduleReminder(_ context.Context, bookingID int64) (*models.ScheduledNotification, error) {
	f.calls = append(f.calls, bookingID)
	return &models.ScheduledNotification{BookingID: bookingID}, nil
}

func TestReminderScannerScan(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)

	mk := func(start time.Time, status string) *models.Booking {
		b := &models.Booking{ClientID: 1, ServiceID: 1, ProfessionalID: 1, StartsAt: start, DurationMinutes: 30, Status: status}
		if err := db.CreateBookingWithLock(ctx, b); err != nil {
			t.Fatalf("create booking: %v", err)
		}
		return b
	}
	inWindow := mk(now.Add(25*time.Hour), models.StatusConfirmed)
	// fires in 3h, outside the window
	mk(now.Add(27*time.Hour), models.StatusConfirmed)
	// fire time already passed
	mk(now.Add(20*time.Hour), models.StatusConfirmed)
	mk(now.Add(25*time.Hour+30*time.Minute), models.StatusPendingPayment)
	// beyond lookahead
	mk(now.Add(10*24*time.Hour), models.StatusConfirmed)

	reminders := &fakeReminders{}
	s := NewReminderScanner(db, reminders, ReminderScannerConfig{}, nopLogger())
	s.now = func() time.Time { return now }

	n, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 1 || len(reminders.calls) != 1 || reminders.calls[0] != inWindow.ID {
		t.Fatalf("expected only booking %d, got %v", inWindow.ID, reminders.calls)
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}

	if (RetryPolicy{}).NextDelay(1) != 0 {
		t.Fatalf("zero policy must retry on next tick")
	}
	if (RetryPolicy{}).NextAttemptAt(time.Now(), 1) != nil {
		t.Fatalf("zero policy must not set next attempt")
	}
	if !(RetryPolicy{}).Exhausted(3) || (RetryPolicy{}).Exhausted(2) {
		t.Fatalf("default limit is 3 attempts")
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicyFromConfig(config.NotificationsConfig{
		MaxRetries: 5,
		Backoff:    config.BackoffConfig{InitialDelay: time.Minute, MaxDelay: time.Hour, Factor: 3},
	})
	if p.MaxRetries != 5 || p.InitialDelay != time.Minute || p.BackoffFactor != 3 {
		t.Fatalf("unexpected policy %+v", p)
	}
}
