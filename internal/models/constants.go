package models

const (
	StatusPendingPayment = "pending_payment"
	StatusConfirmed      = "confirmed"
	StatusCancelled      = "cancelled"
	StatusCompleted      = "completed"
	StatusNoShow         = "no_show"
)

const (
	PaymentStatusNone     = "none"
	PaymentStatusPending  = "pending"
	PaymentStatusReceived = "received"
)

const (
	NotificationPending   = "pending"
	NotificationSent      = "sent"
	NotificationFailed    = "failed"
	NotificationCancelled = "cancelled"
)

const (
	ChannelTelegram = "telegram"
	ChannelEmail    = "email"
	ChannelLog      = "log"
)

const (
	// SharedCalendarID is the pseudo-professional that owns unassigned bookings.
	SharedCalendarID int64 = 0

	// SlotStepMinutes шаг сетки слотов
	SlotStepMinutes = 30

	// MaxAvailabilityRangeDays максимальный период запроса доступности
	MaxAvailabilityRangeDays = 30

	// MinBookingAdvanceMinutes минимальное время до начала записи
	MinBookingAdvanceMinutes = 60

	// CancelWindowMinutes отмена возможна не позднее чем за 2 часа
	CancelWindowMinutes = 120

	// MaxNotificationRetries после третьей неудачи уведомление помечается failed
	MaxNotificationRetries = 3

	// DispatchBatchSize количество уведомлений за один тик
	DispatchBatchSize = 100

	// DispatchIntervalSeconds интервал тика рассылки
	DispatchIntervalSeconds = 60

	// ReminderScanIntervalSeconds интервал поиска бронирований для напоминаний
	ReminderScanIntervalSeconds = 5 * 60

	// ReminderLeadHours напоминание за 24 часа до визита
	ReminderLeadHours = 24

	// ReminderLookaheadDays горизонт сканирования бронирований
	ReminderLookaheadDays = 7

	// ReminderFireWindowHours напоминания, срабатывающие в ближайшие 2 часа
	ReminderFireWindowHours = 2

	// FollowUpDelayHours отзыв через N часов после визита
	FollowUpDelayHours = 24
)

// IsTerminalStatus reports whether no further transitions are allowed.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	default:
		return false
	}
}
