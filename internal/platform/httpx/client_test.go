// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transportOf(t *testing.T, c *http.Client) *http.Transport {
	t.Helper()
	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok, "transport type = %T", c.Transport)
	return tr
}

func TestNewClient_Timeouts(t *testing.T) {
	tests := []struct {
		name          string
		timeout       time.Duration
		wantTimeout   time.Duration
		wantHandshake time.Duration
		wantHeader    time.Duration
	}{
		{"default", 0, defaultClientTimeout, defaultDialTimeout, defaultResponseHeaderTimeout},
		{"long webhook timeout is capped per phase", 10 * time.Second, 10 * time.Second, defaultDialTimeout, defaultResponseHeaderTimeout},
		{"short probe timeout used as is", 1500 * time.Millisecond, 1500 * time.Millisecond, 1500 * time.Millisecond, 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.timeout)
			tr := transportOf(t, c)
			assert.Equal(t, tt.wantTimeout, c.Timeout)
			assert.Equal(t, tt.wantHandshake, tr.TLSHandshakeTimeout)
			assert.Equal(t, tt.wantHeader, tr.ResponseHeaderTimeout)
			assert.Equal(t, defaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
		})
	}
}

func TestNewClient_WithoutRedirectsSeesCameraStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.Redirect(w, r, "/login", http.StatusFound)
	}))
	defer srv.Close()

	follow := NewClient(time.Second)
	resp, err := follow.Get(srv.URL + "/video.mjpg")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	probe := NewClient(time.Second, WithoutRedirects())
	resp, err = probe.Get(srv.URL + "/video.mjpg")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestNewClient_TransportWrapper(t *testing.T) {
	var calls int
	c := NewClient(time.Second, WithTransportWrapper(func(rt http.RoundTripper) http.RoundTripper {
		return roundTripFunc(func(r *http.Request) (*http.Response, error) {
			calls++
			return rt.RoundTrip(r)
		})
	}))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := c.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, 1, calls)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
