package wsgateway

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDialAcceptRoundTrip(t *testing.T) {
	listener := NewListener(DefaultConfig(), nil)
	server := httptest.NewServer(listener)
	defer server.Close()

	clientCfg := DefaultConfig()
	clientCfg.URL = "ws" + strings.TrimPrefix(server.URL, "http")
	client := New(clientCfg, nil)
	if err := client.Dial(); err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	serverSide, err := listener.Accept(2 * time.Second)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	defer serverSide.Close()

	want := []byte("hello over wsgateway")
	if err := client.Send(want); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case got := <-serverSide.Receive():
		if string(got) != string(want) {
			t.Fatalf("received %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	if !client.IsConnected() || !serverSide.IsConnected() {
		t.Fatal("expected both ends to report connected")
	}
}

func TestNewFallsBackToDefaultLogger(t *testing.T) {
	g := New(DefaultConfig(), nil)
	if g.logger == nil {
		t.Fatal("expected New(nil) to install a default logger")
	}
}
