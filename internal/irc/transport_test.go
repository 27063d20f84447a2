package irc

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/iobot/iobot/internal/config"
)

func TestDialTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		io.WriteString(conn, ":srv NOTICE * :hello\r\n")
		conn.Close()
	}()

	addr := ln.Addr().(*net.TCPAddr)
	stream, err := Dial(context.Background(), &config.Server{Address: "127.0.0.1", Port: addr.Port})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer stream.Close()

	line, err := NewLineReader(stream).ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if line != ":srv NOTICE * :hello" {
		t.Errorf("unexpected line %q", line)
	}
}

func TestDialWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"text.ircv3.net"}}
	received := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteMessage(websocket.TextMessage, []byte("PING :ws"))
		_, msg, err := ws.ReadMessage()
		if err == nil {
			received <- string(msg)
		}
	}))
	defer srv.Close()

	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg := &config.Server{Address: u}
	if !cfg.IsWebSocket() {
		t.Fatalf("%s should be treated as a websocket address", u)
	}

	stream, err := Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer stream.Close()

	line, err := NewLineReader(stream).ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if line != "PING :ws" {
		t.Errorf("Expected PING :ws, got %q", line)
	}

	if _, err := io.WriteString(stream, "PONG :ws\r\n"); err != nil {
		t.Fatal(err)
	}
	if got := <-received; got != "PONG :ws" {
		t.Errorf("websocket frames carry no terminator, got %q", strconv.Quote(got))
	}
}
