package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/uppe-net/uppe/internal/monitor"
)

func TestExecuteHTTPUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := New(0)
	result := e.Execute(context.Background(), [16]byte{}, srv.URL, monitor.CheckHTTP, 2*time.Second)
	if result.Status != monitor.StatusUp {
		t.Fatalf("expected Up, got %s (%v)", result.Status, result.ErrorMessage)
	}
	if result.StatusCode == nil || *result.StatusCode != 200 {
		t.Fatalf("expected status code 200, got %v", result.StatusCode)
	}
}

func TestExecuteHTTPDownOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := New(0)
	result := e.Execute(context.Background(), [16]byte{}, srv.URL, monitor.CheckHTTP, 2*time.Second)
	if result.Status != monitor.StatusDown {
		t.Fatalf("expected Down for 5xx, got %s", result.Status)
	}
}

func TestExecuteHTTPDegradedOnHighLatency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := New(5) // 5ms threshold, server sleeps 20ms
	result := e.Execute(context.Background(), [16]byte{}, srv.URL, monitor.CheckHTTP, 2*time.Second)
	if result.Status != monitor.StatusDegraded {
		t.Fatalf("expected Degraded, got %s", result.Status)
	}
}

func TestExecuteTCPDownOnRefused(t *testing.T) {
	e := New(0)
	result := e.Execute(context.Background(), [16]byte{}, "127.0.0.1:1", monitor.CheckTCP, 500*time.Millisecond)
	if result.Status != monitor.StatusDown {
		t.Fatalf("expected Down for refused connection, got %s", result.Status)
	}
	if result.StatusCode != nil {
		t.Fatal("TCP results must not set status_code")
	}
}

func TestExecuteICMPNotImplemented(t *testing.T) {
	e := New(0)
	result := e.Execute(context.Background(), [16]byte{}, "example.com", monitor.CheckICMP, time.Second)
	if result.Status != monitor.StatusDown {
		t.Fatalf("expected Down, got %s", result.Status)
	}
	if result.ErrorMessage == nil || *result.ErrorMessage != "ICMP not implemented" {
		t.Fatalf("expected specific ICMP error message, got %v", result.ErrorMessage)
	}
}
