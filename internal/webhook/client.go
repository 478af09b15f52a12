package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"github.com/sattu-dealer/Image-Tools/internal/id"
)

const (
	HeaderSignature = "X-ImageTools-Signature"
	HeaderTimestamp = "X-ImageTools-Timestamp"
	HeaderEvent     = "X-ImageTools-Event"
	// HeaderDelivery is constant across retries of one event so receivers
	// can drop duplicates.
	HeaderDelivery = "X-ImageTools-Delivery"
)

const (
	EventImageProcessed = "image.processed"
	EventImageFailed    = "image.failed"
)

// errPermanent marks responses that will not change on retry.
var errPermanent = errors.New("webhook rejected")

// Event is the body posted for every image notification.
type Event struct {
	Type        string              `json:"event"`
	RecordID    string              `json:"record_id"`
	OwnerID     string              `json:"owner_id"`
	Status      domain.Status       `json:"status"`
	RequestedAt time.Time           `json:"requested_at"`
	OccurredAt  time.Time           `json:"occurred_at"`
	Image       *domain.ImageRecord `json:"image,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Processed describes a completed record.
func Processed(rec domain.ImageRecord, requestedAt time.Time) Event {
	return Event{
		Type:        EventImageProcessed,
		RecordID:    rec.ID,
		OwnerID:     rec.OwnerID,
		Status:      domain.StatusProcessed,
		RequestedAt: requestedAt,
		OccurredAt:  time.Now().UTC(),
		Image:       &rec,
	}
}

// Failed describes a record that will not be processed.
func Failed(recordID, ownerID string, requestedAt time.Time, cause error) Event {
	ev := Event{
		Type:        EventImageFailed,
		RecordID:    recordID,
		OwnerID:     ownerID,
		Status:      domain.StatusFailed,
		RequestedAt: requestedAt,
		OccurredAt:  time.Now().UTC(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	return ev
}

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client posts events signed with HMAC-SHA256 over "<timestamp>.<body>".
// Network errors, 408, 429 and 5xx answers are retried with exponential
// backoff; other 4xx answers end delivery at once.
type Client struct {
	httpClient *http.Client
	secret     string
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewClient(cfg Config) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		secret:     cfg.SigningSecret,
		attempts:   max(1, cfg.MaxAttempts),
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
	}
	if c.httpClient.Timeout <= 0 {
		c.httpClient.Timeout = 10 * time.Second
	}
	if c.backoff <= 0 {
		c.backoff = time.Second
	}
	c.maxBackoff = max(c.maxBackoff, c.backoff)
	return c
}

// Send delivers ev to endpoint. A blank endpoint is a no-op.
func (c *Client) Send(ctx context.Context, endpoint string, ev Event) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	if ev.Type == "" {
		return fmt.Errorf("webhook event type is required")
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set(HeaderTimestamp, timestamp)
	headers.Set(HeaderSignature, Sign(c.secret, timestamp, body))
	headers.Set(HeaderEvent, ev.Type)
	headers.Set(HeaderDelivery, id.New())

	wait := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		var retryAfter time.Duration
		retryAfter, lastErr = c.post(ctx, endpoint, headers, body)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, errPermanent) || ctx.Err() != nil {
			return fmt.Errorf("deliver %s: %w", ev.Type, lastErr)
		}
		if attempt == c.attempts {
			break
		}

		delay := wait
		if retryAfter > 0 {
			delay = min(retryAfter, c.maxBackoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		wait = min(wait*2, c.maxBackoff)
	}

	return fmt.Errorf("deliver %s after %d attempts: %w", ev.Type, c.attempts, lastErr)
}

// post makes one delivery attempt. The returned duration is the receiver's
// Retry-After hint, if any.
func (c *Client) post(ctx context.Context, endpoint string, headers http.Header, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", errPermanent, err)
	}
	req.Header = headers.Clone()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return 0, nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return retryAfter(resp), fmt.Errorf("webhook returned status=%d", code)
	case code >= 400 && code < 500:
		return 0, fmt.Errorf("%w: status=%d", errPermanent, code)
	default:
		return retryAfter(resp), fmt.Errorf("webhook returned status=%d", code)
	}
}

func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Sign returns the signature header value a receiver should expect for body.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
