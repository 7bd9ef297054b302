// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stream

import (
	"bufio"
	"context"
	"crypto/md5" // #nosec G501 -- RTSP digest authentication mandates MD5
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/vigil/internal/pipeline/exec/ffmpeg"
	"github.com/ManuGH/vigil/internal/platform/httpx"
	"github.com/rs/zerolog"
)

// Verdict is the outcome of a failure probe.
type Verdict int

const (
	// VerdictUnknown means the probe could not decide.
	VerdictUnknown Verdict = iota
	VerdictUnreachable
	VerdictUnauthorized
)

func (v Verdict) String() string {
	switch v {
	case VerdictUnreachable:
		return "unreachable"
	case VerdictUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Prober classifies why a stream could not be opened.
type Prober interface {
	Probe(ctx context.Context, source string) Verdict
}

// ProberChain runs probers in order; the first decisive verdict wins.
type ProberChain []Prober

// Probe implements Prober.
func (c ProberChain) Probe(ctx context.Context, source string) Verdict {
	for _, p := range c {
		if v := p.Probe(ctx, source); v != VerdictUnknown {
			return v
		}
		if ctx.Err() != nil {
			break
		}
	}
	return VerdictUnknown
}

// ProtocolProber asks the camera directly: RTSP DESCRIBE over TCP for rtsp
// sources, HTTP GET for http(s) sources.
type ProtocolProber struct {
	Timeout time.Duration
	HTTP    *http.Client
}

// NewProtocolProber returns a prober with a hardened HTTP client.
func NewProtocolProber(timeout time.Duration) *ProtocolProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ProtocolProber{
		Timeout: timeout,
		HTTP:    httpx.NewClient(timeout, httpx.WithoutRedirects()),
	}
}

// Probe implements Prober.
func (p *ProtocolProber) Probe(ctx context.Context, source string) Verdict {
	u, err := url.Parse(source)
	if err != nil {
		return VerdictUnknown
	}
	switch strings.ToLower(u.Scheme) {
	case "rtsp":
		return p.probeRTSP(ctx, u)
	case "http", "https":
		return p.probeHTTP(ctx, u)
	default:
		return VerdictUnknown
	}
}

func (p *ProtocolProber) probeHTTP(ctx context.Context, u *url.URL) Verdict {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return VerdictUnknown
	}
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return VerdictUnreachable
	}
	_ = resp.Body.Close()
	return classifyStatus(resp.StatusCode)
}

func classifyStatus(code int) Verdict {
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return VerdictUnauthorized
	}
	return VerdictUnknown
}

func (p *ProtocolProber) probeRTSP(ctx context.Context, u *url.URL) Verdict {
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "554")
	}
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return VerdictUnreachable
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(p.Timeout))

	// Request URI never carries credentials.
	reqURL := *u
	reqURL.User = nil
	uri := reqURL.String()

	rd := textproto.NewReader(bufio.NewReader(conn))
	code, hdr, err := rtspDescribe(conn, rd, uri, 1, "")
	if err != nil {
		return VerdictUnknown
	}
	if code == http.StatusUnauthorized && u.User != nil {
		auth, ok := rtspAuthorization(u.User, hdr.Values("Www-Authenticate"), uri)
		if !ok {
			return VerdictUnknown
		}
		code, _, err = rtspDescribe(conn, rd, uri, 2, auth)
		if err != nil {
			return VerdictUnknown
		}
	}
	return classifyStatus(code)
}

func rtspDescribe(w io.Writer, rd *textproto.Reader, uri string, cseq int, auth string) (int, textproto.MIMEHeader, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "DESCRIBE %s RTSP/1.0\r\n", uri)
	fmt.Fprintf(&b, "CSeq: %d\r\n", cseq)
	b.WriteString("Accept: application/sdp\r\n")
	b.WriteString("User-Agent: vigil\r\n")
	if auth != "" {
		fmt.Fprintf(&b, "Authorization: %s\r\n", auth)
	}
	b.WriteString("\r\n")
	if _, err := io.WriteString(w, b.String()); err != nil {
		return 0, nil, err
	}

	status, err := rd.ReadLine()
	if err != nil {
		return 0, nil, err
	}
	parts := strings.SplitN(status, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "RTSP/") {
		return 0, nil, fmt.Errorf("malformed rtsp status line %q", status)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, nil, fmt.Errorf("malformed rtsp status code %q", parts[1])
	}
	hdr, err := rd.ReadMIMEHeader()
	if err != nil && len(hdr) == 0 {
		return 0, nil, err
	}
	// Drain an SDP body so the connection can be reused for the retry.
	if n, _ := strconv.Atoi(hdr.Get("Content-Length")); n > 0 {
		if _, err := io.CopyN(io.Discard, rd.R, int64(n)); err != nil {
			return code, hdr, nil
		}
	}
	return code, hdr, nil
}

// rtspAuthorization answers a Digest or Basic challenge.
func rtspAuthorization(user *url.Userinfo, challenges []string, uri string) (string, bool) {
	username := user.Username()
	password, _ := user.Password()
	for _, c := range challenges {
		scheme, params, _ := strings.Cut(strings.TrimSpace(c), " ")
		switch strings.ToLower(scheme) {
		case "digest":
			kv := parseChallenge(params)
			realm, nonce := kv["realm"], kv["nonce"]
			if nonce == "" {
				continue
			}
			ha1 := md5hex(username + ":" + realm + ":" + password)
			ha2 := md5hex("DESCRIBE:" + uri)
			resp := md5hex(ha1 + ":" + nonce + ":" + ha2)
			return fmt.Sprintf(`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
				username, realm, nonce, uri, resp), true
		case "basic":
			return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password)), true
		}
	}
	return "", false
}

func parseChallenge(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return out
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s)) // #nosec G401
	return hex.EncodeToString(sum[:])
}

// FFprobeProber runs ffprobe and scans its stderr for 401/403.
type FFprobeProber struct {
	Bin     string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Probe implements Prober. A clean ffprobe exit is inconclusive.
func (p *FFprobeProber) Probe(ctx context.Context, source string) Verdict {
	if p.Bin == "" {
		return VerdictUnknown
	}
	out := ffmpeg.Probe(ctx, p.Bin, source, p.Timeout, p.Logger)
	if out.AuthRejected() {
		return VerdictUnauthorized
	}
	return VerdictUnknown
}
