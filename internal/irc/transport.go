package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"

	"github.com/iobot/iobot/internal/config"
)

const dialTimeout = 30 * time.Second

// Dial opens the stream for cfg: plain TCP, TLS, optionally through a proxy,
// or a WebSocket when the address is a ws:// or wss:// URL.
func Dial(ctx context.Context, cfg *config.Server) (io.ReadWriteCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	if cfg.IsWebSocket() {
		return dialWebSocket(ctx, cfg)
	}

	base := &net.Dialer{Timeout: dialTimeout}
	var d proxy.Dialer
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("proxy url: %w", err)
		}
		if d, err = proxy.FromURL(u, base); err != nil {
			return nil, fmt.Errorf("proxy: %w", err)
		}
	} else {
		d = proxy.FromEnvironmentUsing(base)
	}

	addr := cfg.HostPort()
	var conn net.Conn
	var err error
	if cd, ok := d.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = d.Dial("tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	if !cfg.TLS {
		return conn, nil
	}
	tc := tls.Client(conn, &tls.Config{
		ServerName:         cfg.Address,
		InsecureSkipVerify: cfg.TLSInsecure,
		NextProtos:         []string{"irc"},
	})
	if err := tc.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tc, nil
}

func dialWebSocket(ctx context.Context, cfg *config.Server) (io.ReadWriteCloser, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
		Subprotocols:     []string{"text.ircv3.net"},
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: cfg.TLSInsecure},
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("proxy url: %w", err)
		}
		dialer.Proxy = func(*http.Request) (*url.URL, error) { return u, nil }
	}
	ws, _, err := dialer.DialContext(ctx, cfg.Address, nil)
	if err != nil {
		return nil, err
	}
	return &wsStream{conn: ws}, nil
}

// wsStream adapts a message-oriented WebSocket to the line-oriented stream
// the rest of the package expects. Each text message carries one line.
type wsStream struct {
	conn *websocket.Conn

	rmu     sync.Mutex
	pending []byte

	wmu sync.Mutex
}

func (s *wsStream) Read(p []byte) (int, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	for len(s.pending) == 0 {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return 0, io.EOF
			}
			return 0, err
		}
		if !strings.HasSuffix(string(msg), "\n") {
			msg = append(msg, '\r', '\n')
		}
		s.pending = msg
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	s.wmu.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.wmu.Unlock()
	return s.conn.Close()
}
