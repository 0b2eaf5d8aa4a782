// File: internal/network/transport.go
package network

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/restfuzz/api/schemas"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultMaxResponseBytes = 16 << 20
)

// TransportError is any failure to complete an exchange: dial, write, read, or
// an unparseable response.
type TransportError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline.
func (e *TransportError) Timeout() bool {
	var ne net.Error
	if errors.As(e.Err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Config configures a RawTransport.
type Config struct {
	Host            string
	Port            int
	UseTLS          bool
	IgnoreTLSErrors bool
	// Timeout bounds one exchange, dial to last body byte.
	Timeout time.Duration
	// RateLimit is requests per second across all sequences; zero disables it.
	RateLimit float64
	Burst     int
	// MaxResponseBytes caps the (decoded) body kept per response.
	MaxResponseBytes int64
	// Proxy is an optional socks5:// URL.
	Proxy string
}

// RawTransport writes rendered requests byte-for-byte onto a fresh connection
// and parses one HTTP/1.1 response. It is safe for concurrent use.
type RawTransport struct {
	addr    string
	timeout time.Duration
	maxBody int64
	dialer  *DialerConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRawTransport validates cfg and builds a transport.
func NewRawTransport(cfg Config, logger *zap.Logger) (*RawTransport, error) {
	if cfg.Host == "" {
		return nil, errors.New("transport host cannot be empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid transport port %d", cfg.Port)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dialer := NewDialerConfig()
	if cfg.UseTLS {
		dialer.TLSConfig.InsecureSkipVerify = cfg.IgnoreTLSErrors
	} else {
		dialer.TLSConfig = nil
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		dialer.Proxy = u
	}

	t := &RawTransport{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		timeout: cfg.Timeout,
		maxBody: cfg.MaxResponseBytes,
		dialer:  dialer,
		logger:  logger.Named("transport"),
	}
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	if t.maxBody <= 0 {
		t.maxBody = DefaultMaxResponseBytes
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return t, nil
}

// Addr returns the host:port the transport connects to.
func (t *RawTransport) Addr() string { return t.addr }

// Send performs one exchange. The request bytes are sent as rendered apart from
// a Content-Length header added when a body is present without one.
func (t *RawTransport) Send(ctx context.Context, raw []byte) (*schemas.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: "rate_limit", Addr: t.addr, Err: err}
		}
	}

	payload, method, err := Frame(raw)
	if err != nil {
		return nil, &TransportError{Op: "frame", Addr: t.addr, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	conn, err := DialContext(ctx, "tcp", t.addr, t.dialer)
	if err != nil {
		return nil, &TransportError{Op: "dial", Addr: t.addr, Err: err}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock reads and writes as soon as ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(payload); err != nil {
		return nil, &TransportError{Op: "write", Addr: t.addr, Err: t.cause(ctx, err)}
	}

	httpResp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: method})
	if err != nil {
		return nil, &TransportError{Op: "read", Addr: t.addr, Err: t.cause(ctx, err)}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, t.maxBody))
	if err != nil {
		return nil, &TransportError{Op: "read_body", Addr: t.addr, Err: t.cause(ctx, err)}
	}

	headers := httpResp.Header.Clone()
	if enc := headers.Get("Content-Encoding"); enc != "" {
		decoded, ok, decErr := decodeBody(enc, body, t.maxBody)
		switch {
		case decErr != nil:
			t.logger.Warn("Failed to decode response body, keeping it as received",
				zap.String("content_encoding", enc),
				zap.Error(decErr),
			)
		case ok:
			body = decoded
			headers.Del("Content-Encoding")
			headers.Del("Content-Length")
		}
	}

	resp := &schemas.Response{
		StatusCode: httpResp.StatusCode,
		Headers:    headers,
		Body:       body,
		Duration:   time.Since(start),
	}
	t.logger.Debug("Exchange complete",
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Int("body_bytes", len(body)),
		zap.Duration("duration", resp.Duration),
	)
	return resp, nil
}

// cause prefers the context error over the deadline error it provoked.
func (t *RawTransport) cause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

var headerTerminator = []byte("\r\n\r\n")

// Frame prepares rendered bytes for the wire and reports the request method.
// A missing blank line after the headers is added, and a Content-Length header
// is inserted when there is a body and neither Content-Length nor
// Transfer-Encoding is present.
func Frame(raw []byte) (payload []byte, method string, err error) {
	lineEnd := bytes.Index(raw, []byte("\r\n"))
	if lineEnd <= 0 {
		return nil, "", errors.New("request has no request line")
	}
	reqLine := string(raw[:lineEnd])
	method, _, found := strings.Cut(reqLine, " ")
	if !found || method == "" {
		return nil, "", fmt.Errorf("malformed request line %q", reqLine)
	}

	var head, body []byte
	if i := bytes.Index(raw, headerTerminator); i >= 0 {
		head = raw[:i+2] // keep the last header's CRLF
		body = raw[i+len(headerTerminator):]
	} else {
		head = raw
		if !bytes.HasSuffix(head, []byte("\r\n")) {
			head = append(append([]byte(nil), head...), '\r', '\n')
		}
	}

	var buf bytes.Buffer
	buf.Grow(len(raw) + 32)
	buf.Write(head)
	if len(body) > 0 && !hasHeader(head, "Content-Length") && !hasHeader(head, "Transfer-Encoding") {
		buf.WriteString("Content-Length: ")
		buf.WriteString(strconv.Itoa(len(body)))
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes(), method, nil
}

func hasHeader(head []byte, name string) bool {
	lines := strings.Split(string(head), "\r\n")
	for _, line := range lines[1:] {
		k, _, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(k), name) {
			return true
		}
	}
	return false
}
