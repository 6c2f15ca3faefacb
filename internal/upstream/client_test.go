package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/iepose/aigcd/internal/domain"
)

func TestInvokeDecodesEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"msg":"ok","data":["ZmFrZQ=="]}`))
	}))
	defer server.Close()

	result, err := NewClient(nil).Invoke(context.Background(), server.URL, []byte(`{"init_image":"x"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Code != CodeOK || result.Msg != "ok" {
		t.Fatalf("envelope = %+v", result)
	}
	if string(result.Raw) != `{"code":0,"msg":"ok","data":["ZmFrZQ=="]}` {
		t.Fatalf("Raw = %s", result.Raw)
	}
}

func TestInvokeNonZeroCodePassesThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":7,"msg":"model overloaded"}`))
	}))
	defer server.Close()

	result, err := NewClient(nil).Invoke(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Code != 7 {
		t.Fatalf("Code = %d, want 7", result.Code)
	}
}

func TestInvokeErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusBadGateway)
			},
			wantErr: domain.ErrUpstreamUnavailable,
		},
		{
			name: "non-json content type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<html>oops</html>"))
			},
			wantErr: domain.ErrUpstreamInvalidResponse,
		},
		{
			name: "undecodable body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte("{not json"))
			},
			wantErr: domain.ErrUpstreamInvalidResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := NewClient(nil).Invoke(context.Background(), server.URL, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Invoke error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestInvokeConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse from now on

	_, err := NewClient(nil).Invoke(context.Background(), server.URL, nil)
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("Invoke error = %v, want ErrUpstreamUnavailable", err)
	}
}
