package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"
	"salonbook/internal/service"

	"github.com/redis/go-redis/v9"
)

// Client calls the salonbook HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

// APIError is a non-2xx response. It unwraps to the matching domain error.
type APIError struct {
	StatusCode int
	Message    string
	Conflicts  []domain.Conflict
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusBadRequest:
		return domain.ErrValidation
	case http.StatusConflict:
		return domain.ErrConflict
	case http.StatusUnprocessableEntity:
		return domain.ErrTooLate
	case http.StatusServiceUnavailable:
		return domain.ErrLockNotAcquired
	}
	return nil
}

type AvailabilityQuery struct {
	ServiceID      int64
	ProfessionalID int64
	From           time.Time
	To             time.Time
}

// New constructs a client with baseURL, API key and extra header.
func New(baseURL, apiKey, apiExtra string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiExtra:   apiExtra,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UseRedisCache enables caching of availability responses.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

func (c *Client) GetAvailability(ctx context.Context, q AvailabilityQuery) ([]models.AvailabilitySlot, error) {
	params := url.Values{}
	params.Set("service_id", strconv.FormatInt(q.ServiceID, 10))
	params.Set("from", q.From.Format(time.RFC3339))
	params.Set("to", q.To.Format(time.RFC3339))
	if q.ProfessionalID > 0 {
		params.Set("professional_id", strconv.FormatInt(q.ProfessionalID, 10))
	}
	endpoint := c.baseURL + "/api/v1/availability?" + params.Encode()
	cacheKey := "availability:" + params.Encode()

	var wrap struct {
		Slots []models.AvailabilitySlot `json:"slots"`
	}
	if c.readCache(ctx, cacheKey, &wrap) {
		return wrap.Slots, nil
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &wrap); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, wrap)
	return wrap.Slots, nil
}

func (c *Client) CreateBooking(ctx context.Context, req service.CreateBookingRequest) (*models.Booking, error) {
	var b models.Booking
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/v1/bookings", req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	var b models.Booking
	if err := c.doJSON(ctx, http.MethodGet, c.bookingURL(id, ""), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) ConfirmBooking(ctx context.Context, id int64, paymentReference string) (*models.Booking, error) {
	body := map[string]string{"payment_reference": paymentReference}
	var b models.Booking
	if err := c.doJSON(ctx, http.MethodPost, c.bookingURL(id, "/confirm"), body, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) CancelBooking(ctx context.Context, id int64, reason string) (*models.Booking, error) {
	body := map[string]string{"reason": reason}
	var b models.Booking
	if err := c.doJSON(ctx, http.MethodPost, c.bookingURL(id, "/cancel"), body, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) bookingURL(id int64, action string) string {
	return fmt.Sprintf("%s/api/v1/bookings/%d%s", c.baseURL, id, action)
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(val, out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	var payload io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var payload struct {
		Error     string            `json:"error"`
		Conflicts []domain.Conflict `json:"conflicts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return apiErr
	}
	if payload.Error != "" {
		apiErr.Message = payload.Error
	}
	apiErr.Conflicts = payload.Conflicts
	return apiErr
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}
}
