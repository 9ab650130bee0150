package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"salonbook/internal/config"
	"salonbook/internal/domain"
	"salonbook/internal/models"
	"salonbook/internal/service"
	"salonbook/internal/worker"

	"github.com/rs/zerolog"
)

// BookingAPI is the booking surface the HTTP layer drives.
type BookingAPI interface {
	GetAvailability(ctx context.Context, serviceID int64, from, to time.Time, professionalID int64) ([]models.AvailabilitySlot, error)
	CreateBooking(ctx context.Context, req service.CreateBookingRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	UpdateBooking(ctx context.Context, id int64, req service.UpdateBookingRequest) (*models.Booking, error)
	ConfirmBooking(ctx context.Context, id int64, paymentReference string) (*models.Booking, error)
	CancelBooking(ctx context.Context, id int64, reason string) (*models.Booking, error)
	CompleteBooking(ctx context.Context, id int64) (*models.Booking, error)
	MarkNoShow(ctx context.Context, id int64) (*models.Booking, error)
}

type NotificationAPI interface {
	ProcessDueNotifications(ctx context.Context) (worker.Stats, error)
}

type ReportWriter interface {
	Write(ctx context.Context, out io.Writer, from, to time.Time) error
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Bookings      BookingAPI
	Notifications NotificationAPI
	Reports       ReportWriter
	DB            Pinger
	Location      *time.Location
}

// HTTPServer exposes the booking API over JSON.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	l := logger.With().Str("component", "http").Logger()
	srv := &HTTPServer{cfg: cfg, deps: deps, auth: NewHTTPAuth(cfg), logger: &l}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /readyz", srv.handleReadyz)
	mux.HandleFunc("GET /api/v1/availability", srv.handleAvailability)
	mux.HandleFunc("GET /api/v1/bookings", srv.handleListBookings)
	mux.HandleFunc("POST /api/v1/bookings", srv.handleCreateBooking)
	mux.HandleFunc("GET /api/v1/bookings/{id}", srv.handleGetBooking)
	mux.HandleFunc("PATCH /api/v1/bookings/{id}", srv.handleUpdateBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/confirm", srv.handleConfirmBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", srv.handleCancelBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/complete", srv.handleCompleteBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/no-show", srv.handleNoShow)
	mux.HandleFunc("POST /api/v1/notifications/process", srv.handleProcessNotifications)
	mux.HandleFunc("GET /api/v1/reports/bookings.xlsx", srv.handleBookingsReport)

	handler := chain(mux,
		withRequestID,
		withLogging(srv.logger),
		withRecover(srv.logger),
		srv.auth.Wrap,
	)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.PingContext(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeServiceError maps domain errors onto HTTP statuses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var conflictErr *domain.ConflictError
	switch {
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     domain.ErrConflict.Error(),
			"conflicts": conflictErr.Conflicts,
		})
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrTooLate):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrLockNotAcquired):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "booking is busy, retry later")
	default:
		s.logger.Error().
			Err(err).
			Str("request_id", requestIDFrom(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
