// Package report builds XLSX exports of the booking calendar and the
// notification queue.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	sheetSchedule      = "Schedule"
	sheetBookings      = "Bookings"
	sheetNotifications = "Notifications"
)

// Store is the read side the export needs; *database.DB satisfies it.
type Store interface {
	domain.ServiceLookup
	domain.ClientLookup
	domain.ProfessionalLookup
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	ListNotificationsScheduledBetween(ctx context.Context, from, to time.Time) ([]*models.ScheduledNotification, error)
}

type Exporter struct {
	store  Store
	loc    *time.Location
	logger *zerolog.Logger
}

func NewExporter(store Store, loc *time.Location, logger *zerolog.Logger) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{store: store, loc: loc, logger: logger}
}

// Build renders every booking and notification between the from and to
// dates, both inclusive.
func (e *Exporter) Build(ctx context.Context, from, to time.Time) (*excelize.File, error) {
	start := dayStart(from.In(e.loc))
	end := dayStart(to.In(e.loc)).AddDate(0, 0, 1)
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: from is after to", domain.ErrInvalidRange)
	}

	bookings, err := e.store.ListBookings(ctx, models.BookingFilter{From: start, To: end})
	if err != nil {
		return nil, fmt.Errorf("error getting bookings: %w", err)
	}
	notifications, err := e.store.ListNotificationsScheduledBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("error getting notifications: %w", err)
	}
	professionals, err := e.store.ListActiveProfessionals(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting professionals: %w", err)
	}

	w := &workbook{
		File:  excelize.NewFile(),
		ctx:   ctx,
		store: e.store,
		loc:   e.loc,
		names: make(map[string]string),
	}
	if err := w.initStyles(); err != nil {
		w.Close()
		return nil, err
	}

	if err := w.writeSchedule(start, end, professionals, bookings); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.writeBookings(bookings); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.writeNotifications(notifications); err != nil {
		w.Close()
		return nil, err
	}

	// Удаляем стандартный лист
	_ = w.DeleteSheet("Sheet1")
	if idx, err := w.GetSheetIndex(sheetSchedule); err == nil {
		w.SetActiveSheet(idx)
	}
	return w.File, nil
}

// Write streams the workbook to out.
func (e *Exporter) Write(ctx context.Context, out io.Writer, from, to time.Time) error {
	f, err := e.Build(ctx, from, to)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(out); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// Save writes the workbook into dir and returns the file path.
func (e *Exporter) Save(ctx context.Context, dir string, from, to time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := e.Build(ctx, from, to)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(dir, FileName(from, to))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", path).Msg("Excel file created")
	return path, nil
}

// FileName is the export name for the period.
func FileName(from, to time.Time) string {
	return fmt.Sprintf("bookings_%s_to_%s.xlsx", from.Format("2006-01-02"), to.Format("2006-01-02"))
}

type workbook struct {
	*excelize.File
	ctx   context.Context
	store Store
	loc   *time.Location
	names map[string]string

	headerStyle int
	titleStyle  int
	cellStyles  map[string]int
}

func (w *workbook) initStyles() error {
	var err error
	w.headerStyle, err = w.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}
	w.titleStyle, err = w.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}

	fills := map[string]string{
		"free":     "#FFFFFF",
		"busy":     "#C6EFCE",
		"pending":  "#FFEB9C",
		"inactive": "#F2F2F2",
	}
	w.cellStyles = make(map[string]int, len(fills))
	for name, color := range fills {
		id, err := w.NewStyle(&excelize.Style{
			Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "top", WrapText: true},
		})
		if err != nil {
			return fmt.Errorf("error creating style: %w", err)
		}
		w.cellStyles[name] = id
	}
	return nil
}

// writeSchedule lays out professionals by row and days by column. The shared
// calendar gets its own row.
func (w *workbook) writeSchedule(start, end time.Time, professionals []*models.Professional, bookings []*models.Booking) error {
	if _, err := w.NewSheet(sheetSchedule); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}

	sort.SliceStable(professionals, func(i, j int) bool { return professionals[i].Name < professionals[j].Name })
	rows := map[int64]int{models.SharedCalendarID: 3}
	_ = w.SetCellValue(sheetSchedule, "A3", "Shared calendar")
	for i, p := range professionals {
		rows[p.ID] = i + 4
		cell, _ := excelize.CoordinatesToCellName(1, i+4)
		_ = w.SetCellValue(sheetSchedule, cell, p.Name)
	}
	lastRow := len(professionals) + 3

	columns := make(map[string]int)
	col := 2
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		cell, _ := excelize.CoordinatesToCellName(col, 2)
		_ = w.SetCellValue(sheetSchedule, cell, day.Format("02.01 Mon"))
		_ = w.SetCellStyle(sheetSchedule, cell, cell, w.headerStyle)
		columns[day.Format("2006-01-02")] = col
		col++
	}
	lastCol := col - 1

	_ = w.SetCellValue(sheetSchedule, "A1", fmt.Sprintf("Period: %s - %s",
		start.Format("02.01.2006"), end.AddDate(0, 0, -1).Format("02.01.2006")))
	lastColName, _ := excelize.ColumnNumberToName(lastCol)
	if lastCol > 1 {
		_ = w.MergeCell(sheetSchedule, "A1", lastColName+"1")
	}
	_ = w.SetCellStyle(sheetSchedule, "A1", "A1", w.titleStyle)

	type cellKey struct{ row, col int }
	cells := make(map[cellKey][]*models.Booking)
	for _, b := range bookings {
		if b.Status == models.StatusCancelled {
			continue
		}
		row, ok := rows[b.ProfessionalID]
		if !ok {
			continue
		}
		c, ok := columns[b.StartsAt.In(w.loc).Format("2006-01-02")]
		if !ok {
			continue
		}
		k := cellKey{row, c}
		cells[k] = append(cells[k], b)
	}

	for row := 3; row <= lastRow; row++ {
		for c := 2; c <= lastCol; c++ {
			cell, _ := excelize.CoordinatesToCellName(c, row)
			list := cells[cellKey{row, c}]
			if len(list) == 0 {
				_ = w.SetCellStyle(sheetSchedule, cell, cell, w.cellStyles["free"])
				continue
			}
			lines := make([]string, 0, len(list))
			for _, b := range list {
				lines = append(lines, fmt.Sprintf("%s %s (%s) %s",
					b.StartsAt.In(w.loc).Format("15:04"),
					w.serviceName(b.ServiceID),
					w.clientName(b.ClientID),
					statusLabel(b.Status)))
			}
			_ = w.SetCellValue(sheetSchedule, cell, strings.Join(lines, "\n"))
			_ = w.SetCellStyle(sheetSchedule, cell, cell, w.cellStyles[cellKind(list)])
		}
	}

	_ = w.SetColWidth(sheetSchedule, "A", "A", 25)
	if lastCol > 1 {
		_ = w.SetColWidth(sheetSchedule, "B", lastColName, 28)
	}
	return nil
}

func (w *workbook) writeBookings(bookings []*models.Booking) error {
	headers := []interface{}{"ID", "Date", "Time", "Minutes", "Client", "Service", "Professional", "Status", "Payment", "Amount", "Notes", "Cancel reason"}
	if err := w.table(sheetBookings, headers); err != nil {
		return err
	}
	for i, b := range bookings {
		local := b.StartsAt.In(w.loc)
		row := []interface{}{
			b.ID,
			local.Format("02.01.2006"),
			local.Format("15:04"),
			b.DurationMinutes,
			w.clientName(b.ClientID),
			w.serviceName(b.ServiceID),
			w.professionalName(b.ProfessionalID),
			b.Status,
			b.PaymentStatus,
			b.PaymentAmount,
			b.Notes,
			b.CancelReason,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := w.SetSheetRow(sheetBookings, cell, &row); err != nil {
			return fmt.Errorf("error writing booking %d: %w", b.ID, err)
		}
	}
	_ = w.SetColWidth(sheetBookings, "E", "G", 20)
	return nil
}

func (w *workbook) writeNotifications(notifications []*models.ScheduledNotification) error {
	headers := []interface{}{"ID", "Booking", "Client", "Type", "Channel", "Scheduled for", "Status", "Retries", "Sent at", "Error"}
	if err := w.table(sheetNotifications, headers); err != nil {
		return err
	}
	for i, n := range notifications {
		sentAt := ""
		if n.SentAt != nil {
			sentAt = n.SentAt.In(w.loc).Format("02.01.2006 15:04")
		}
		row := []interface{}{
			n.ID,
			n.BookingID,
			w.clientName(n.ClientID),
			string(n.Type),
			n.Channel,
			n.ScheduledFor.In(w.loc).Format("02.01.2006 15:04"),
			n.Status,
			n.RetryCount,
			sentAt,
			n.ErrorMessage,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := w.SetSheetRow(sheetNotifications, cell, &row); err != nil {
			return fmt.Errorf("error writing notification %d: %w", n.ID, err)
		}
	}
	_ = w.SetColWidth(sheetNotifications, "F", "F", 18)
	_ = w.SetColWidth(sheetNotifications, "J", "J", 40)
	return nil
}

func (w *workbook) table(sheet string, headers []interface{}) error {
	if _, err := w.NewSheet(sheet); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	if err := w.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("error writing headers: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = w.SetCellStyle(sheet, "A1", last, w.headerStyle)
	return w.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func (w *workbook) serviceName(id int64) string {
	return w.name("service", id, func() (string, error) {
		s, err := w.store.GetService(w.ctx, id)
		if err != nil {
			return "", err
		}
		return s.Name, nil
	})
}

func (w *workbook) clientName(id int64) string {
	return w.name("client", id, func() (string, error) {
		c, err := w.store.GetClient(w.ctx, id)
		if err != nil {
			return "", err
		}
		if c.Phone != "" {
			return fmt.Sprintf("%s, %s", c.Name, c.Phone), nil
		}
		return c.Name, nil
	})
}

func (w *workbook) professionalName(id int64) string {
	if id == models.SharedCalendarID {
		return "Shared calendar"
	}
	return w.name("professional", id, func() (string, error) {
		p, err := w.store.GetProfessional(w.ctx, id)
		if err != nil {
			return "", err
		}
		return p.Name, nil
	})
}

// name caches lookups; rows that point at deleted records show their id.
func (w *workbook) name(kind string, id int64, load func() (string, error)) string {
	key := fmt.Sprintf("%s:%d", kind, id)
	if v, ok := w.names[key]; ok {
		return v
	}
	v, err := load()
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Sprintf("#%d", id)
		}
		v = fmt.Sprintf("#%d", id)
	}
	w.names[key] = v
	return v
}

func cellKind(list []*models.Booking) string {
	for _, b := range list {
		if b.Status == models.StatusConfirmed || b.Status == models.StatusCompleted {
			return "busy"
		}
	}
	for _, b := range list {
		if b.Status == models.StatusPendingPayment {
			return "pending"
		}
	}
	return "inactive"
}

func statusLabel(status string) string {
	switch status {
	case models.StatusConfirmed:
		return "✅"
	case models.StatusPendingPayment:
		return "⏳"
	case models.StatusCompleted:
		return "✔"
	case models.StatusNoShow:
		return "❌"
	default:
		return status
	}
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
