// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Check reports nil when the named dependency is usable
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

const checkTimeout = 2 * time.Second

// Readiness runs every check and answers 503 listing the failing ones
func Readiness(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status  string            `json:"status"`
			Failing map[string]string `json:"failing,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		out := resp{Status: "ready"}
		for _, c := range checks {
			if c.Fn == nil {
				continue
			}
			if err := c.Fn(ctx); err != nil {
				if out.Failing == nil {
					out.Failing = map[string]string{}
				}
				out.Failing[c.Name] = err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if len(out.Failing) > 0 {
			out.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
