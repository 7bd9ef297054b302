// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/vigil/internal/camera"
	"github.com/ManuGH/vigil/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	dto "github.com/prometheus/client_model/go"
)

var at = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

type backend struct {
	mu       sync.Mutex
	payloads []Payload
	secrets  []string
	status   int
}

func newBackend(t *testing.T, status int) (*backend, *httptest.Server) {
	t.Helper()
	b := &backend{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.payloads = append(b.payloads, p)
		b.secrets = append(b.secrets, r.Header.Get(SecretHeader))
		b.mu.Unlock()
		w.WriteHeader(b.status)
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *backend) received() []Payload {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Payload(nil), b.payloads...)
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func wait(t *testing.T, w *Webhook) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Wait(ctx))
}

func counter(t *testing.T, typ, result string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.WebhookRequestsTotal.WithLabelValues(typ, result).Write(&m))
	return m.GetCounter().GetValue()
}

func TestPayloads_Vocabulary(t *testing.T) {
	tests := []struct {
		ev    camera.Event
		types []string
	}{
		{camera.Event{Type: camera.EventMotionStart}, []string{TypeMotionOn, TypeEventStart}},
		{camera.Event{Type: camera.EventMotionEnd}, []string{TypeMotionOff}},
		{camera.Event{Type: camera.EventRecordingEnd}, []string{TypeMovieEnd}},
		{camera.Event{Type: camera.EventSnapshotSave}, []string{TypePictureSave}},
		{camera.Event{Type: camera.EventHealth}, []string{TypeCameraHealth}},
		{camera.Event{Type: camera.EventRecordingStart}, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.ev.Type), func(t *testing.T) {
			var got []string
			for _, p := range Payloads(tt.ev) {
				got = append(got, p.Type)
			}
			assert.Equal(t, tt.types, got)
		})
	}
}

func TestPayloads_Fields(t *testing.T) {
	p := Payloads(camera.Event{
		CameraID: "front",
		Type:     camera.EventRecordingEnd,
		At:       at.In(time.FixedZone("CET", 3600)),
		Path:     "/media/front/a.mp4",
		Width:    640,
		Height:   480,
	})
	require.Len(t, p, 1)
	assert.Equal(t, "front", p[0].CameraID)
	assert.Equal(t, "2025-03-04T05:06:07Z", p[0].Timestamp)
	assert.Equal(t, "/media/front/a.mp4", p[0].FilePath)
	require.NotNil(t, p[0].Width)
	require.NotNil(t, p[0].Height)
	assert.Equal(t, 640, *p[0].Width)
	assert.Equal(t, 480, *p[0].Height)

	h := Payloads(camera.Event{
		Type:    camera.EventHealth,
		Health:  camera.HealthUnauthorized,
		Title:   "Camera authentication failed",
		Message: "bad password",
	})
	require.Len(t, h, 1)
	assert.Equal(t, "unauthorized", h[0].Status)
	assert.Equal(t, "Camera authentication failed", h[0].Title)
	assert.Empty(t, h[0].FilePath)
	assert.Nil(t, h[0].Width)
}

func TestPayloads_MediaDimensionsAlwaysSerialized(t *testing.T) {
	for _, typ := range []camera.EventType{camera.EventRecordingEnd, camera.EventSnapshotSave} {
		p := Payloads(camera.Event{CameraID: "front", Type: typ, At: at, Path: "/media/front/x"})
		require.Len(t, p, 1)
		raw, err := json.Marshal(p[0])
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"width":0`, typ)
		assert.Contains(t, string(raw), `"height":0`, typ)
	}

	h := Payloads(camera.Event{CameraID: "front", Type: camera.EventHealth, At: at, Health: camera.HealthUnreachable})
	require.Len(t, h, 1)
	raw, err := json.Marshal(h[0])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"width"`)
}

func TestWebhook_DeliversWithSecret(t *testing.T) {
	b, srv := newBackend(t, http.StatusNoContent)
	w := New(Options{URL: srv.URL, Secret: "s3cret", NewID: sequentialIDs()})

	w.Notify(camera.Event{CameraID: "front", Type: camera.EventMotionStart, At: at})
	wait(t, w)

	got := b.received()
	require.Len(t, got, 2)
	ids := map[string]bool{got[0].EventID: true, got[1].EventID: true}
	assert.Equal(t, map[string]bool{"id-1": true, "id-2": true}, ids)
	for _, s := range b.secrets {
		assert.Equal(t, "s3cret", s)
	}
}

func TestWebhook_RecordingStartIsNotForwarded(t *testing.T) {
	b, srv := newBackend(t, http.StatusOK)
	w := New(Options{URL: srv.URL})

	before := counter(t, string(camera.EventRecordingStart), "not_forwarded")
	w.Notify(camera.Event{CameraID: "front", Type: camera.EventRecordingStart, At: at})
	wait(t, w)

	assert.Empty(t, b.received())
	assert.Equal(t, before+1, counter(t, string(camera.EventRecordingStart), "not_forwarded"))
}

func TestWebhook_BreakerOpensAfterFailures(t *testing.T) {
	b, srv := newBackend(t, http.StatusBadGateway)
	w := New(Options{URL: srv.URL, BreakerThreshold: 2, BreakerReset: time.Hour})

	before := counter(t, TypeMotionOff, "circuit_open")
	for i := 0; i < 4; i++ {
		w.Notify(camera.Event{CameraID: "front", Type: camera.EventMotionEnd, At: at})
		wait(t, w)
	}

	assert.Len(t, b.received(), 2)
	assert.Equal(t, before+2, counter(t, TypeMotionOff, "circuit_open"))
}

func TestWebhook_RateLimitDrops(t *testing.T) {
	b, srv := newBackend(t, http.StatusOK)
	w := New(Options{URL: srv.URL, Rate: 0.001, Burst: 1})

	w.Notify(camera.Event{CameraID: "front", Type: camera.EventMotionEnd, At: at})
	w.Notify(camera.Event{CameraID: "front", Type: camera.EventMotionEnd, At: at})
	wait(t, w)

	assert.Len(t, b.received(), 1)
}

func TestWebhook_DisabledOnlyLogs(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w := New(Options{})
	assert.False(t, w.Enabled())
	w.Notify(camera.Event{CameraID: "front", Type: camera.EventMotionEnd, At: at})
	wait(t, w)
}

func TestWebhook_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	w := New(Options{URL: url, Timeout: time.Second})
	before := counter(t, TypePictureSave, "transport_error")
	w.Notify(camera.Event{CameraID: "front", Type: camera.EventSnapshotSave, At: at, Path: "/x.jpg"})
	wait(t, w)
	assert.Equal(t, before+1, counter(t, TypePictureSave, "transport_error"))
}
