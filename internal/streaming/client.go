package streaming

import (
	"cmp"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-reporter/internal/types"
	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

const (
	// responseReadSize bounds the scratch read of the collector's reply.
	responseReadSize = 127
	// responseReadTimeout bounds how long Finish waits for that reply.
	responseReadTimeout = 5 * time.Second
)

// Client opens upload exchanges against the collector endpoint.
type Client struct {
	Endpoint string        // collector URL, e.g. http://host:8000/api/audio
	APIKey   string        // sent as X-API-Key when set
	Timeout  time.Duration // dial timeout, types.ConnectTimeout when zero
}

// Exchange is one live upload: a connection plus the protocol over it.
type Exchange struct {
	conn  net.Conn
	proto *Protocol
}

// Open dials the collector and writes the request head. The returned
// exchange is in the streaming phase.
func (c *Client) Open(ctx context.Context, format Format) (*Exchange, error) {
	target, err := url.Parse(c.Endpoint)
	if err != nil {
		return nil, util.WrapError("parse collector url", err)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("collector url %q has no host", c.Endpoint)
	}

	addr := target.Host
	if target.Port() == "" {
		if target.Scheme == "https" {
			addr += ":443"
		} else {
			addr += ":80"
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, cmp.Or(c.Timeout, types.ConnectTimeout))
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, util.WrapError("connect to collector", err)
	}

	if target.Scheme == "https" {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: target.Hostname()})
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			_ = conn.Close()
			return nil, util.WrapError("tls handshake", err)
		}
		conn = tlsConn
	}

	proto := NewProtocol(conn)
	if err := proto.Begin(target, c.APIKey, format); err != nil {
		_ = conn.Close()
		return nil, err
	}

	slog.Info("upload connection opened", "endpoint", c.Endpoint)
	return &Exchange{conn: conn, proto: proto}, nil
}

// WriteFrame forwards one payload frame through the protocol.
func (e *Exchange) WriteFrame(payload []byte) (int, error) {
	return e.proto.WriteFrame(payload)
}

// BytesSent returns the payload bytes accepted so far.
func (e *Exchange) BytesSent() int64 {
	return e.proto.BytesSent()
}

// Finish writes the terminal chunk and reads the collector's short reply
// into a fixed scratch buffer. The reply is logged, never parsed; failing
// to read one is not an error.
func (e *Exchange) Finish() error {
	if err := e.proto.End(); err != nil {
		return err
	}

	_ = e.conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	buf := make([]byte, responseReadSize)
	n, err := e.conn.Read(buf)
	if n == 0 {
		if err != nil {
			slog.Warn("no response from collector", "error", err)
		}
		return nil
	}

	status, _, _ := strings.Cut(string(buf[:n]), "\r\n")
	slog.Info("collector response", "status", status, "bytes_sent", e.proto.BytesSent())
	return nil
}

// Close releases the connection.
func (e *Exchange) Close() error {
	return e.conn.Close()
}
