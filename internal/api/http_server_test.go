package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"salonbook/internal/config"
	"salonbook/internal/domain"
	"salonbook/internal/models"
	"salonbook/internal/service"
	"salonbook/internal/worker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBookings struct {
	mock.Mock
}

func (m *mockBookings) booking(args mock.Arguments) (*models.Booking, error) {
	if b := args.Get(0); b != nil {
		return b.(*models.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBookings) GetAvailability(ctx context.Context, serviceID int64, from, to time.Time, professionalID int64) ([]models.AvailabilitySlot, error) {
	args := m.Called(ctx, serviceID, from, to, professionalID)
	slots, _ := args.Get(0).([]models.AvailabilitySlot)
	return slots, args.Error(1)
}

func (m *mockBookings) CreateBooking(ctx context.Context, req service.CreateBookingRequest) (*models.Booking, error) {
	return m.booking(m.Called(ctx, req))
}

func (m *mockBookings) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return m.booking(m.Called(ctx, id))
}

func (m *mockBookings) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	args := m.Called(ctx, filter)
	list, _ := args.Get(0).([]*models.Booking)
	return list, args.Error(1)
}

func (m *mockBookings) UpdateBooking(ctx context.Context, id int64, req service.UpdateBookingRequest) (*models.Booking, error) {
	return m.booking(m.Called(ctx, id, req))
}

func (m *mockBookings) ConfirmBooking(ctx context.Context, id int64, ref string) (*models.Booking, error) {
	return m.booking(m.Called(ctx, id, ref))
}

func (m *mockBookings) CancelBooking(ctx context.Context, id int64, reason string) (*models.Booking, error) {
	return m.booking(m.Called(ctx, id, reason))
}

func (m *mockBookings) CompleteBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return m.booking(m.Called(ctx, id))
}

func (m *mockBookings) MarkNoShow(ctx context.Context, id int64) (*models.Booking, error) {
	return m.booking(m.Called(ctx, id))
}

type mockNotifications struct {
	mock.Mock
}

func (m *mockNotifications) ProcessDueNotifications(ctx context.Context) (worker.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(worker.Stats), args.Error(1)
}

type reportFunc func(ctx context.Context, out io.Writer, from, to time.Time) error

func (f reportFunc) Write(ctx context.Context, out io.Writer, from, to time.Time) error {
	return f(ctx, out, from, to)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	cfg := config.APIConfig{Enabled: true, HTTP: config.APIHTTPConfig{Enabled: true}}
	logger := zerolog.New(io.Discard)
	srv := NewHTTPServer(cfg, deps, &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

var start = time.Date(2030, 3, 4, 10, 0, 0, 0, time.UTC)

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, Deps{})

	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
}

func TestReadyz(t *testing.T) {
	healthy := newTestServer(t, Deps{DB: pingFunc(func(context.Context) error { return nil })})
	resp, _ := do(t, http.MethodGet, healthy.URL+"/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	broken := newTestServer(t, Deps{DB: pingFunc(func(context.Context) error { return errors.New("closed") })})
	resp, _ = do(t, http.MethodGet, broken.URL+"/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAvailability(t *testing.T) {
	bookings := new(mockBookings)
	ts := newTestServer(t, Deps{Bookings: bookings})

	from := time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)
	to := time.Date(2030, 3, 5, 0, 0, 0, 0, time.UTC)
	bookings.On("GetAvailability", mock.Anything, int64(1), from, to, int64(2)).
		Return([]models.AvailabilitySlot{{StartsAt: start, EndsAt: start.Add(time.Hour), DurationMinutes: 60, ProfessionalID: 2, Available: true}}, nil).Once()

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/availability?service_id=1&from=2030-03-04&to=2030-03-05&professional_id=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	slots := body["slots"].([]any)
	require.Len(t, slots, 1)
	assert.Equal(t, true, slots[0].(map[string]any)["available"])

	t.Run("MissingService", func(t *testing.T) {
		resp, _ := do(t, http.MethodGet, ts.URL+"/api/v1/availability?from=2030-03-04&to=2030-03-05", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("InvalidDate", func(t *testing.T) {
		resp, _ := do(t, http.MethodGet, ts.URL+"/api/v1/availability?service_id=1&from=tomorrow&to=2030-03-05", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("RangeTooLong", func(t *testing.T) {
		far := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
		bookings.On("GetAvailability", mock.Anything, int64(1), from, far, int64(0)).
			Return(nil, fmt.Errorf("%w: range exceeds 30 days", domain.ErrInvalidRange)).Once()
		resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/availability?service_id=1&from=2030-03-04&to=2030-06-01", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body["error"], "range exceeds")
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		resp, _ := do(t, http.MethodPost, ts.URL+"/api/v1/availability", "")
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	bookings.AssertExpectations(t)
}

func TestCreateBooking(t *testing.T) {
	bookings := new(mockBookings)
	ts := newTestServer(t, Deps{Bookings: bookings})

	req := service.CreateBookingRequest{ClientID: 1, ServiceID: 2, StartsAt: start, Notes: "first visit"}
	bookings.On("CreateBooking", mock.Anything, req).
		Return(&models.Booking{ID: 10, ClientID: 1, ServiceID: 2, ProfessionalID: 3, StartsAt: start, Status: models.StatusConfirmed}, nil).Once()

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/bookings",
		`{"client_id":1,"service_id":2,"starts_at":"2030-03-04T10:00:00Z","notes":"first visit"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(10), body["id"])
	assert.Equal(t, float64(3), body["professional_id"])

	t.Run("UnknownField", func(t *testing.T) {
		resp, _ := do(t, http.MethodPost, ts.URL+"/api/v1/bookings", `{"client":1}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	bookings.AssertExpectations(t)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("booking 5: %w", domain.ErrNotFound), http.StatusNotFound},
		{"validation", fmt.Errorf("%w: must book at least 1h0m0s ahead", domain.ErrValidation), http.StatusBadRequest},
		{"too late", fmt.Errorf("%w: booking 5 is cancelled", domain.ErrTooLate), http.StatusUnprocessableEntity},
		{"stale version", domain.ErrConcurrentModification, http.StatusConflict},
		{"lock busy", domain.ErrLockNotAcquired, http.StatusServiceUnavailable},
		{"unexpected", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bookings := new(mockBookings)
			ts := newTestServer(t, Deps{Bookings: bookings})
			bookings.On("CancelBooking", mock.Anything, int64(5), "").Return(nil, tt.err).Once()

			resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/bookings/5/cancel", "")
			assert.Equal(t, tt.want, resp.StatusCode)
			if tt.want == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body["error"], "internal details are not leaked")
			}
		})
	}
}

func TestConflictResponseListsConflicts(t *testing.T) {
	bookings := new(mockBookings)
	ts := newTestServer(t, Deps{Bookings: bookings})

	later := start.Add(30 * time.Minute)
	bookings.On("UpdateBooking", mock.Anything, int64(8), service.UpdateBookingRequest{StartsAt: &later}).
		Return(nil, domain.NewConflictError([]domain.Conflict{{
			Kind:      domain.ConflictProfessionalBusy,
			Message:   "overlaps booking 3",
			BookingID: 3,
		}})).Once()

	resp, body := do(t, http.MethodPatch, ts.URL+"/api/v1/bookings/8", `{"starts_at":"2030-03-04T10:30:00Z"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	conflicts := body["conflicts"].([]any)
	require.Len(t, conflicts, 1)
	first := conflicts[0].(map[string]any)
	assert.Equal(t, "professional_busy", first["kind"])
	assert.Equal(t, float64(3), first["booking_id"])
}

func TestLifecycleRoutes(t *testing.T) {
	bookings := new(mockBookings)
	ts := newTestServer(t, Deps{Bookings: bookings})

	bookings.On("GetBooking", mock.Anything, int64(4)).Return(&models.Booking{ID: 4, Status: models.StatusPendingPayment}, nil).Once()
	bookings.On("ConfirmBooking", mock.Anything, int64(4), "pay-9").Return(&models.Booking{ID: 4, Status: models.StatusConfirmed}, nil).Once()
	bookings.On("CancelBooking", mock.Anything, int64(4), "flu").Return(&models.Booking{ID: 4, Status: models.StatusCancelled}, nil).Once()
	bookings.On("CompleteBooking", mock.Anything, int64(6)).Return(&models.Booking{ID: 6, Status: models.StatusCompleted}, nil).Once()
	bookings.On("MarkNoShow", mock.Anything, int64(7)).Return(&models.Booking{ID: 7, Status: models.StatusNoShow}, nil).Once()

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/bookings/4", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusPendingPayment, body["status"])

	_, body = do(t, http.MethodPost, ts.URL+"/api/v1/bookings/4/confirm", `{"payment_reference":"pay-9"}`)
	assert.Equal(t, models.StatusConfirmed, body["status"])

	_, body = do(t, http.MethodPost, ts.URL+"/api/v1/bookings/4/cancel", `{"reason":" flu "}`)
	assert.Equal(t, models.StatusCancelled, body["status"])

	_, body = do(t, http.MethodPost, ts.URL+"/api/v1/bookings/6/complete", "")
	assert.Equal(t, models.StatusCompleted, body["status"])

	_, body = do(t, http.MethodPost, ts.URL+"/api/v1/bookings/7/no-show", "")
	assert.Equal(t, models.StatusNoShow, body["status"])

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/bookings/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	bookings.AssertExpectations(t)
}

func TestListBookings(t *testing.T) {
	bookings := new(mockBookings)
	ts := newTestServer(t, Deps{Bookings: bookings})

	pid := int64(0)
	filter := models.BookingFilter{
		ClientID:       3,
		ProfessionalID: &pid,
		Statuses:       []string{models.StatusConfirmed, models.StatusPendingPayment},
		From:           time.Date(2030, 3, 1, 0, 0, 0, 0, time.UTC),
		To:             time.Date(2030, 3, 8, 0, 0, 0, 0, time.UTC),
		Limit:          20,
	}
	bookings.On("ListBookings", mock.Anything, filter).Return(nil, nil).Once()

	resp, body := do(t, http.MethodGet,
		ts.URL+"/api/v1/bookings?client_id=3&professional_id=0&status=confirmed,pending_payment&from=2030-03-01&to=2030-03-07&limit=20", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["bookings"])
	bookings.AssertExpectations(t)
}

func TestProcessNotifications(t *testing.T) {
	notifications := new(mockNotifications)
	ts := newTestServer(t, Deps{Notifications: notifications})
	notifications.On("ProcessDueNotifications", mock.Anything).Return(worker.Stats{Selected: 3, Sent: 2, Retried: 1}, nil).Once()

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/notifications/process", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["sent"])
	assert.Equal(t, float64(1), body["retried"])

	unwired := newTestServer(t, Deps{})
	resp, _ = do(t, http.MethodPost, unwired.URL+"/api/v1/notifications/process", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBookingsReport(t *testing.T) {
	var gotFrom, gotTo time.Time
	reports := reportFunc(func(_ context.Context, out io.Writer, from, to time.Time) error {
		gotFrom, gotTo = from, to
		_, err := out.Write([]byte("xlsx-bytes"))
		return err
	})
	ts := newTestServer(t, Deps{Reports: reports})

	resp, err := http.Get(ts.URL + "/api/v1/reports/bookings.xlsx?from=2030-03-01&to=2030-03-07")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "bookings_2030-03-01_to_2030-03-07.xlsx")
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "xlsx-bytes", string(data))
	assert.True(t, gotFrom.Equal(time.Date(2030, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, gotTo.Equal(time.Date(2030, 3, 7, 0, 0, 0, 0, time.UTC)))

	failing := newTestServer(t, Deps{Reports: reportFunc(func(context.Context, io.Writer, time.Time, time.Time) error {
		return fmt.Errorf("%w: from is after to", domain.ErrInvalidRange)
	})})
	resp2, _ := do(t, http.MethodGet, failing.URL+"/api/v1/reports/bookings.xlsx?from=2030-03-07&to=2030-03-01", "")
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestHTTPServer_StartStop(t *testing.T) {
	logger := zerolog.New(io.Discard)
	srv := NewHTTPServer(config.APIConfig{HTTP: config.APIHTTPConfig{Port: 0}}, Deps{}, &logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
