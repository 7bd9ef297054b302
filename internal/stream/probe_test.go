// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stream

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRTSPCamera answers DESCRIBE with a digest challenge and accepts only
// the given password.
func fakeRTSPCamera(t *testing.T, password string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		rd := textproto.NewReader(bufio.NewReader(conn))
		for cseq := 1; ; cseq++ {
			line, err := rd.ReadLine()
			if err != nil {
				return
			}
			hdr, err := rd.ReadMIMEHeader()
			if err != nil {
				return
			}
			uri := strings.Fields(line)[1]
			auth := hdr.Get("Authorization")
			want := md5hex(md5hex("admin:cam:"+password) + ":abc:" + md5hex("DESCRIBE:"+uri))
			if auth != "" && strings.Contains(auth, `response="`+want+`"`) {
				body := "v=0\r\n"
				_, _ = fmt.Fprintf(conn, "RTSP/1.0 200 OK\r\nCSeq: %d\r\nContent-Length: %d\r\n\r\n%s", cseq, len(body), body)
				continue
			}
			_, _ = fmt.Fprintf(conn, "RTSP/1.0 401 Unauthorized\r\nCSeq: %d\r\nWWW-Authenticate: Digest realm=\"cam\", nonce=\"abc\"\r\n\r\n", cseq)
		}
	}()
	return ln.Addr().String()
}

func TestProtocolProber_RTSPDigest(t *testing.T) {
	p := NewProtocolProber(2 * time.Second)

	addr := fakeRTSPCamera(t, "right")
	assert.Equal(t, VerdictUnknown, p.Probe(context.Background(), "rtsp://admin:right@"+addr+"/stream1"))

	addr = fakeRTSPCamera(t, "right")
	assert.Equal(t, VerdictUnauthorized, p.Probe(context.Background(), "rtsp://admin:wrong@"+addr+"/stream1"))

	addr = fakeRTSPCamera(t, "right")
	assert.Equal(t, VerdictUnauthorized, p.Probe(context.Background(), "rtsp://"+addr+"/stream1"))
}

func TestProtocolProber_RTSPRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	p := NewProtocolProber(time.Second)
	assert.Equal(t, VerdictUnreachable, p.Probe(context.Background(), "rtsp://"+addr+"/s"))
}

func TestProtocolProber_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		switch {
		case !ok:
			w.WriteHeader(http.StatusUnauthorized)
		case user == "admin" && pass == "right":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	p := NewProtocolProber(time.Second)
	host := strings.TrimPrefix(srv.URL, "http://")
	assert.Equal(t, VerdictUnauthorized, p.Probe(context.Background(), srv.URL+"/video.mjpg"))
	assert.Equal(t, VerdictUnauthorized, p.Probe(context.Background(), "http://admin:wrong@"+host+"/video.mjpg"))
	assert.Equal(t, VerdictUnknown, p.Probe(context.Background(), "http://admin:right@"+host+"/video.mjpg"))
}

func TestProtocolProber_UnsupportedScheme(t *testing.T) {
	p := NewProtocolProber(time.Second)
	assert.Equal(t, VerdictUnknown, p.Probe(context.Background(), "rtmp://cam/live"))
}

func TestProberChain_FirstDecisiveWins(t *testing.T) {
	chain := ProberChain{staticProber(VerdictUnknown), staticProber(VerdictUnauthorized), staticProber(VerdictUnreachable)}
	assert.Equal(t, VerdictUnauthorized, chain.Probe(context.Background(), "rtsp://x"))
	assert.Equal(t, VerdictUnknown, ProberChain{}.Probe(context.Background(), "rtsp://x"))
}

func TestRTSPAuthorization_Basic(t *testing.T) {
	auth, ok := rtspAuthorization(urlUser("admin", "pw"), []string{`Basic realm="cam"`}, "rtsp://cam/s")
	require.True(t, ok)
	assert.Equal(t, "Basic YWRtaW46cHc=", auth)

	_, ok = rtspAuthorization(urlUser("admin", "pw"), []string{`Bearer x`}, "rtsp://cam/s")
	assert.False(t, ok)
}

func urlUser(name, pass string) *url.Userinfo { return url.UserPassword(name, pass) }
