package main

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestTargetURL(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  string
		want string
	}{
		{"default", nil, "", defaultURL},
		{"env", nil, "http://exstore:9000/livez", "http://exstore:9000/livez"},
		{"argument wins", []string{"http://a/readyz"}, "http://b/readyz", "http://a/readyz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := targetURL(tt.args, tt.env); got != tt.want {
				t.Errorf("targetURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	var ready atomic.Bool
	ready.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	if err := check(srv.Client(), srv.URL); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
	ready.Store(false)
	if err := check(srv.Client(), srv.URL); err == nil {
		t.Error("expected a 503 to fail the check")
	}
}
