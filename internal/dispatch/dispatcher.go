// Package dispatch sends rendered messages to the Discord webhook endpoint
// with bounded retries, exponential backoff, and global rate-limit
// compliance.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"plane-relay/internal/models"
	"plane-relay/pkg/metrics"

	"go.uber.org/zap"
)

var (
	// ErrExhaustedRetries means every allowed attempt hit a transient failure.
	ErrExhaustedRetries = errors.New("delivery retries exhausted")
	// ErrRejected means the endpoint refused the payload; retrying cannot help.
	ErrRejected = errors.New("delivery rejected by endpoint")
	// ErrRateLimited means the attempt budget ran out while rate-limited.
	ErrRateLimited = errors.New("delivery rate limited")
)

type Options struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	PerEventTimeout time.Duration
	MinSendInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.PerEventTimeout <= 0 {
		o.PerEventTimeout = 2 * time.Minute
	}
	return o
}

type Dispatcher struct {
	webhookURL string
	client     *http.Client
	opts       Options
	pacer      *Pacer
	logger     *zap.Logger
}

func NewDispatcher(webhookURL string, timeout time.Duration, opts Options, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	o := opts.withDefaults()
	return &Dispatcher{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		opts:       o,
		pacer:      NewPacer(o.MinSendInterval),
		logger:     logger,
	}
}

// Deliver posts the message, retrying transient failures with jittered
// exponential backoff and honoring 429 retry-after delays. Exactly one
// outbound call happens per attempt.
func (d *Dispatcher) Deliver(ctx context.Context, msg models.RenderedMessage) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.PerEventTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		if err := d.pacer.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrExhaustedRetries, err)
		}

		status, retryAfter, err := d.send(ctx, msg)

		switch {
		case err == nil && (status == http.StatusOK || status == http.StatusNoContent):
			metrics.DeliveryAttempts.WithLabelValues("success").Inc()
			return nil

		case err == nil && status == http.StatusTooManyRequests:
			metrics.DeliveryAttempts.WithLabelValues("rate_limited").Inc()
			metrics.RateLimitWaits.Inc()
			d.pacer.Push(retryAfter)
			lastErr = fmt.Errorf("%w: endpoint asked to wait %s", ErrRateLimited, retryAfter)
			d.logger.Warn("Discord rate limited",
				zap.Duration("retry_after", retryAfter),
				zap.Int("attempt", attempt))
			if attempt == d.opts.MaxAttempts {
				return lastErr
			}
			if err := sleepCtx(ctx, retryAfter); err != nil {
				return lastErr
			}

		case err == nil && status >= 400 && status < 500:
			metrics.DeliveryAttempts.WithLabelValues("rejected").Inc()
			return fmt.Errorf("%w: status %d", ErrRejected, status)

		default:
			// Network fault or 5xx: transient.
			metrics.DeliveryAttempts.WithLabelValues("retryable").Inc()
			if err != nil {
				lastErr = err
			} else {
				lastErr = fmt.Errorf("endpoint returned status %d", status)
			}
			d.logger.Warn("Delivery attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			if attempt == d.opts.MaxAttempts {
				continue
			}
			if err := sleepCtx(ctx, d.backoff(attempt)); err != nil {
				return fmt.Errorf("%w: last error: %v", ErrExhaustedRetries, lastErr)
			}
		}
	}

	return fmt.Errorf("%w: last error: %v", ErrExhaustedRetries, lastErr)
}

// send performs one outbound call. A non-nil error means the call itself
// failed; otherwise status carries the endpoint's verdict.
func (d *Dispatcher) send(ctx context.Context, msg models.RenderedMessage) (status int, retryAfter time.Duration, err error) {
	body, contentType, err := encodeBody(msg)
	if err != nil {
		return 0, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, body)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, parseRetryAfter(resp), nil
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, 0, nil
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	// Exponential backoff with jitter, capped.
	backoff := float64(d.opts.BaseDelay) * math.Pow(2, float64(attempt-1))
	jitter := rand.Float64()*0.5 + 0.5
	delay := time.Duration(backoff * jitter)
	if delay > d.opts.MaxDelay {
		delay = d.opts.MaxDelay
	}
	return delay
}

// parseRetryAfter reads the endpoint's advertised delay: the Retry-After
// header, or Discord's JSON retry_after seconds.
func parseRetryAfter(resp *http.Response) time.Duration {
	if h := resp.Header.Get("Retry-After"); h != "" {
		if secs, err := strconv.ParseFloat(h, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}

	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &payload); err == nil && payload.RetryAfter > 0 {
		return time.Duration(payload.RetryAfter * float64(time.Second))
	}

	return time.Second
}

// Discord wire shapes.
type discordPayload struct {
	Embeds          []discordEmbed  `json:"embeds"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

type discordEmbed struct {
	Title     string                `json:"title"`
	Color     int                   `json:"color"`
	Fields    []models.MessageField `json:"fields"`
	URL       string                `json:"url,omitempty"`
	Timestamp string                `json:"timestamp,omitempty"`
	Thumbnail *discordMedia         `json:"thumbnail,omitempty"`
	Author    *discordAuthor        `json:"author,omitempty"`
}

type discordMedia struct {
	URL string `json:"url"`
}

type discordAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

func buildPayload(msg models.RenderedMessage) discordPayload {
	embed := discordEmbed{
		Title:     msg.Title,
		Color:     msg.Color,
		Fields:    msg.Fields,
		URL:       msg.LinkURL,
		Timestamp: msg.Timestamp,
	}

	if validEmbedURL(msg.Thumbnail) {
		embed.Thumbnail = &discordMedia{URL: msg.Thumbnail}
	}

	if msg.Author.Name != "" {
		author := &discordAuthor{Name: msg.Author.Name, IconURL: msg.Author.IconURL}
		if msg.Attachment != nil {
			author.IconURL = "attachment://" + msg.Attachment.Filename
		}
		embed.Author = author
	}

	return discordPayload{
		Embeds: []discordEmbed{embed},
		// Never ping anyone by accident.
		AllowedMentions: allowedMentions{Parse: []string{}},
	}
}

// encodeBody produces a plain JSON body, or a multipart body carrying the
// avatar attachment alongside payload_json.
func encodeBody(msg models.RenderedMessage) (io.Reader, string, error) {
	payload := buildPayload(msg)
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}

	if msg.Attachment == nil {
		return bytes.NewReader(raw), "application/json", nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	jsonHeader := textproto.MIMEHeader{}
	jsonHeader.Set("Content-Disposition", `form-data; name="payload_json"`)
	jsonHeader.Set("Content-Type", "application/json")
	part, err := w.CreatePart(jsonHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(raw); err != nil {
		return nil, "", err
	}

	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[0]"; filename="%s"`, msg.Attachment.Filename))
	fileHeader.Set("Content-Type", msg.Attachment.MIME)
	part, err = w.CreatePart(fileHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(msg.Attachment.Content); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func validEmbedURL(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "attachment://")
}
