// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package notify delivers camera events to the management backend as
// fire-and-forget webhook POSTs.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/vigil/internal/camera"
	"github.com/ManuGH/vigil/internal/config"
	"github.com/ManuGH/vigil/internal/log"
	"github.com/ManuGH/vigil/internal/metrics"
	"github.com/ManuGH/vigil/internal/platform/httpx"
	"github.com/ManuGH/vigil/internal/resilience"
	"github.com/ManuGH/vigil/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// SecretHeader carries the shared secret on every request.
const SecretHeader = "X-Vigil-Secret"

const (
	DefaultTimeout = 5 * time.Second
	DefaultRate    = 20
	DefaultBurst   = 40
)

// ErrStatus is wrapped for non-2xx backend responses.
var ErrStatus = errors.New("webhook returned non-success status")

// Options configures a Webhook.
type Options struct {
	URL     string
	Secret  string
	Timeout time.Duration
	// Rate and Burst bound deliveries per second; excess events are dropped.
	Rate  float64
	Burst int
	// BreakerThreshold consecutive failures open the breaker for BreakerReset.
	BreakerThreshold int
	BreakerReset     time.Duration

	Client *http.Client
	Now    func() time.Time
	NewID  func() string
	Logger *zerolog.Logger
}

// Webhook posts events to one backend URL. Notify never blocks the caller.
type Webhook struct {
	url     string
	secret  string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	tracer  trace.Tracer
	newID   func() string
	logger  zerolog.Logger

	inflight sync.WaitGroup
}

// New builds a webhook notifier. An empty URL yields a notifier that only
// logs.
func New(opts Options) *Webhook {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Client == nil {
		opts.Client = httpx.NewClient(opts.Timeout, httpx.WithTransportWrapper(func(rt http.RoundTripper) http.RoundTripper {
			return otelhttp.NewTransport(rt)
		}))
	}
	var breakerOpts []resilience.Option
	if opts.Now != nil {
		breakerOpts = append(breakerOpts, resilience.WithClock(clockFunc(opts.Now)))
	}

	w := &Webhook{
		url:     opts.URL,
		secret:  opts.Secret,
		timeout: opts.Timeout,
		client:  opts.Client,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		breaker: resilience.NewCircuitBreaker("webhook", opts.BreakerThreshold, opts.BreakerReset, breakerOpts...),
		tracer:  telemetry.Tracer("vigil/notify"),
		newID:   opts.NewID,
	}
	if opts.Logger != nil {
		w.logger = *opts.Logger
	} else {
		w.logger = log.WithComponent("webhook")
	}
	return w
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// Enabled reports whether a backend URL is configured.
func (w *Webhook) Enabled() bool { return w.url != "" }

// Notify maps ev and dispatches each resulting payload on its own goroutine.
func (w *Webhook) Notify(ev camera.Event) {
	payloads := Payloads(ev)
	if len(payloads) == 0 {
		metrics.IncWebhook(string(ev.Type), "not_forwarded")
		w.logger.Debug().
			Str(log.FieldEvent, "webhook.skipped").
			Str(log.FieldCameraID, ev.CameraID).
			Str("type", string(ev.Type)).
			Msg("event is not forwarded")
		return
	}
	for _, p := range payloads {
		p.EventID = w.newID()
		if !w.Enabled() {
			metrics.IncWebhook(p.Type, "disabled")
			w.logger.Debug().
				Str(log.FieldEvent, "webhook.disabled").
				Str(log.FieldCameraID, p.CameraID).
				Str("type", p.Type).
				Msg("no webhook configured, event logged only")
			continue
		}
		if !w.limiter.Allow() {
			metrics.IncWebhook(p.Type, "rate_limited")
			w.logger.Warn().
				Str(log.FieldEvent, "webhook.rate_limited").
				Str(log.FieldCameraID, p.CameraID).
				Str("type", p.Type).
				Msg("webhook rate exceeded, dropping event")
			continue
		}
		w.inflight.Add(1)
		go func(p Payload) {
			defer w.inflight.Done()
			w.deliver(p)
		}(p)
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (w *Webhook) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver runs detached from any caller context.
func (w *Webhook) deliver(p Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	ctx, span := w.tracer.Start(ctx, "vigil.webhook.deliver", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(telemetry.EventAttributes(p.CameraID, p.Type, p.EventID)...)

	logger := w.logger.With().
		Str(log.FieldCameraID, p.CameraID).
		Str(log.FieldEventID, p.EventID).
		Str("type", p.Type).
		Logger()

	start := time.Now()
	status := 0
	err := w.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		status, err = w.post(ctx, p)
		return err
	})
	metrics.WebhookDuration.WithLabelValues(p.Type).Observe(time.Since(start).Seconds())

	result := classify(err)
	metrics.IncWebhook(p.Type, result)
	span.SetAttributes(telemetry.WebhookAttributes(status, result)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "webhook.failed").
			Str(log.FieldURL, config.MaskURL(w.url)).
			Int("status", status).
			Str("result", result).
			Msg("webhook delivery failed")
		return
	}
	span.SetStatus(codes.Ok, "")
	logger.Debug().
		Str(log.FieldEvent, "webhook.delivered").
		Int("status", status).
		Dur("duration", time.Since(start)).
		Msg("webhook delivered")
}

func (w *Webhook) post(ctx context.Context, p Payload) (int, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "vigil-webhook")
	if w.secret != "" {
		req.Header.Set(SecretHeader, w.secret)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrStatus):
		return "http_error"
	default:
		return "transport_error"
	}
}
