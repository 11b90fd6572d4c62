package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/geotrack/internal/domain/position"
	"github.com/danghamo/geotrack/pkg/logger"
)

const (
	// LocationPath is appended to the configured API URL
	LocationPath = "/employee/location"

	capturedAtLayout = "2006-01-02T15:04:05.000Z"
)

// Target is where and as whom records are uploaded
type Target struct {
	APIURL    string
	AuthToken string
	TenantID  string
}

// Payload is the JSON body of one upload
type Payload struct {
	EmployeeID string  `json:"employee_id"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	CapturedAt string  `json:"captured_at"`
}

// NewPayload builds the upload body for a stored record
func NewPayload(employeeID string, r position.Record) Payload {
	return Payload{
		EmployeeID: employeeID,
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		CapturedAt: FormatCapturedAt(r.CapturedAtMillis),
	}
}

// FormatCapturedAt renders epoch millis as UTC ISO-8601 with milliseconds
func FormatCapturedAt(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(capturedAtLayout)
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("location upload rejected: status %d", e.StatusCode)
}

// Uploader sends one payload and reports whether the endpoint accepted it
type Uploader interface {
	Upload(ctx context.Context, target Target, payload Payload) error
}

// Client uploads positions over HTTP
type Client struct {
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a client with bounded connect and response timeouts
func NewClient(connectTimeout, responseTimeout time.Duration, log *logger.Logger) *Client {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: responseTimeout,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   connectTimeout + responseTimeout,
		},
		logger: log.WithComponent("remote"),
	}
}

// Upload POSTs the payload; any 2xx is success, everything else is an error
func (c *Client) Upload(ctx context.Context, target Target, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.APIURL+LocationPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+target.AuthToken)
	if target.TenantID != "" {
		req.Header.Set("X-Tenant-ID", target.TenantID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Location upload failed",
			zap.String("captured_at", payload.CapturedAt),
			zap.Error(err),
		)
		return fmt.Errorf("location upload: %w", err)
	}
	defer resp.Body.Close()
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	c.logger.Debug("Location upload response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.String("captured_at", payload.CapturedAt),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}
