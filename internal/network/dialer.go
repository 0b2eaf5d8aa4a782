// File: internal/network/dialer.go
package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

const (
	DefaultDialTimeout = 10 * time.Second
	DefaultKeepAlive   = 30 * time.Second
)

// DialerConfig configures the TCP layer and, when TLSConfig is set, the TLS layer.
type DialerConfig struct {
	Timeout      time.Duration
	KeepAlive    time.Duration
	ForceNoDelay bool
	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config
	// Proxy routes every connection through a SOCKS5 proxy (socks5://[user:pass@]host:port).
	Proxy *url.URL
}

// NewDialerConfig returns a config with modern TLS defaults.
func NewDialerConfig() *DialerConfig {
	return &DialerConfig{
		Timeout:   DefaultDialTimeout,
		KeepAlive: DefaultKeepAlive,
		TLSConfig: &tls.Config{
			MinVersion:       tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256},
			CipherSuites: []uint16{
				tls.TLS_AES_256_GCM_SHA384,
				tls.TLS_CHACHA20_POLY1305_SHA256,
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
				tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			},
			ClientSessionCache: tls.NewLRUClientSessionCache(64),
		},
	}
}

// DialTCPContext opens a plain TCP connection, through the SOCKS5 proxy if one is configured.
func DialTCPContext(ctx context.Context, network, addr string, config *DialerConfig) (net.Conn, error) {
	if config == nil {
		config = NewDialerConfig()
	}
	dialer := &net.Dialer{Timeout: config.Timeout, KeepAlive: config.KeepAlive}

	var (
		conn net.Conn
		err  error
	)
	if config.Proxy != nil {
		conn, err = dialViaProxy(ctx, dialer, config.Proxy, network, addr)
	} else {
		conn, err = dialer.DialContext(ctx, network, addr)
	}
	if err != nil {
		return nil, err
	}

	if tcp, ok := conn.(*net.TCPConn); ok && config.ForceNoDelay {
		if err := tcp.SetNoDelay(true); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set TCP_NODELAY: %w", err)
		}
	}
	return conn, nil
}

func dialViaProxy(ctx context.Context, forward *net.Dialer, proxyURL *url.URL, network, addr string) (net.Conn, error) {
	d, err := proxy.FromURL(proxyURL, forward)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %s: %w", proxyURL.Redacted(), err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, addr)
	}
	return d.Dial(network, addr)
}

// DialContext opens a TCP connection and performs the TLS handshake when the config asks for TLS.
// SNI defaults to the host part of addr.
func DialContext(ctx context.Context, network, addr string, config *DialerConfig) (net.Conn, error) {
	if config == nil {
		config = NewDialerConfig()
	}
	conn, err := DialTCPContext(ctx, network, addr, config)
	if err != nil {
		return nil, err
	}
	if config.TLSConfig == nil {
		return conn, nil
	}

	tlsConfig := config.TLSConfig.Clone()
	if tlsConfig.ServerName == "" {
		host, _, splitErr := net.SplitHostPort(addr)
		if splitErr != nil {
			host = addr
		}
		tlsConfig.ServerName = host
	}

	hsCtx := ctx
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake failed: %w", err)
	}
	return tlsConn, nil
}
