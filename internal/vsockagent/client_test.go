package vsockagent

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensandbox/opensandbox/internal/config"
)

func TestParseStreamingResponseMidStream(t *testing.T) {
	httpBytes := []byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")

	plain, _, err := parseStreamingResponse(bufio.NewReader(bytes.NewReader(httpBytes)), "GET", 1<<20)
	if err != nil {
		t.Fatalf("parse plain: %v", err)
	}
	plainBody, _ := io.ReadAll(plain.Body)

	withPrefix := append([]byte("garbage-framing-bytes-before-response"), httpBytes...)
	prefixed, saw, err := parseStreamingResponse(bufio.NewReader(bytes.NewReader(withPrefix)), "GET", 1<<20)
	if err != nil {
		t.Fatalf("parse with prefix: %v", err)
	}
	if !saw {
		t.Fatal("expected sawHTTPBytes=true")
	}
	prefixedBody, _ := io.ReadAll(prefixed.Body)

	if string(plainBody) != string(prefixedBody) {
		t.Fatalf("body mismatch: %q vs %q", plainBody, prefixedBody)
	}
	if plain.StatusCode != prefixed.StatusCode {
		t.Fatalf("status mismatch: %d vs %d", plain.StatusCode, prefixed.StatusCode)
	}
}

func TestParseStreamingResponseNoMarkerEOF(t *testing.T) {
	_, saw, err := parseStreamingResponse(bufio.NewReader(bytes.NewReader(nil)), "GET", 1<<20)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if saw {
		t.Fatal("expected sawHTTPBytes=false")
	}
}

func TestParseStreamingResponseCap(t *testing.T) {
	httpBytes := []byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	_, saw, err := parseStreamingResponse(bufio.NewReader(bytes.NewReader(httpBytes)), "GET", 10)
	if err == nil {
		t.Fatal("expected cap error, got nil")
	}
	if !saw {
		t.Fatal("expected sawHTTPBytes=true once marker is found, even over cap")
	}
}

// fakeAgent simulates an in-guest agent over a vsock UDS: it answers the
// CONNECT handshake and then, depending on script, returns either no
// further bytes (simulating a transient failure) or a real HTTP response.
func fakeAgent(t *testing.T, sockPath string, scripts []string) {
	t.Helper()
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		defer ln.Close()
		for _, script := range scripts {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				if _, err := r.ReadString('\n'); err != nil {
					return
				}
				conn.Write([]byte("OK 1024\n"))
				if script == "" {
					return // close immediately: handshake-only bytes
				}
				io.Copy(io.Discard, io.LimitReader(r, 0)) // drain nothing further needed
				conn.Write([]byte(script))
			}()
		}
	}()
}

func TestExchangeRetriesUntilHTTPResponse(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "v.sock")

	scripts := []string{"", "", "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"}
	fakeAgent(t, sockPath, scripts)
	defer os.Remove(sockPath)

	time.Sleep(20 * time.Millisecond)

	c := New(sockPath, 80, config.VsockConfig{
		RetryAttempts:        3,
		RetryDelayMs:         1,
		TimeoutMs:            2000,
		HealthMs:             2000,
		MaxJSONResponseBytes: 1 << 20,
	})

	body, err := c.doJSON("GET", "/health", nil, 2000)
	if err != nil {
		t.Fatalf("doJSON: %v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("expected body 'ok', got %q", body)
	}
}

func TestIsRetryable(t *testing.T) {
	if !isRetryable(io.EOF) {
		t.Error("expected io.EOF to be retryable")
	}
	if isRetryable(nil) {
		t.Error("expected nil to not be retryable")
	}
}
