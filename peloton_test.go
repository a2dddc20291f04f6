package peloton

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// upstream is a fake Peloton API for client round-trip tests.
type upstream struct {
	mux        *http.ServeMux
	loginCalls int
	loginFails int
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{mux: http.NewServeMux()}
	u.mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		u.loginCalls++
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var creds struct {
			Username string `json:"username_or_email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		if u.loginFails > 0 {
			u.loginFails--
			http.Error(w, "upstream trouble", http.StatusInternalServerError)
			return
		}
		if creds.Username != "rider" || creds.Password != "secret" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"user_id": "u123"})
	})
	return u
}

func (u *upstream) client(t *testing.T, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(u.mux)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithBaseURL(srv.URL)}, opts...)
	c, err := NewClient("rider", "secret", opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestClientWorkouts(t *testing.T) {
	u := newUpstream(t)
	u.mux.HandleFunc("/api/user/u123/workouts", func(w http.ResponseWriter, r *http.Request) {
		if joins := r.URL.Query().Get("joins"); joins != "ride" {
			t.Errorf("joins = %q, want ride", joins)
		}
		var data []any
		switch r.URL.Query().Get("page") {
		case "0":
			data = []any{map[string]any{"id": "w1", "fitness_discipline": "cycling"}}
		case "1":
			data = []any{map[string]any{"id": "w2", "fitness_discipline": "running"}}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data, "page_count": 2})
	})

	c := u.client(t, WithPageSize(1))
	workouts, err := c.Workouts(context.Background())
	if err != nil {
		t.Fatalf("workouts: %v", err)
	}
	if len(workouts) != 2 {
		t.Fatalf("got %d workouts, want 2", len(workouts))
	}
	if workouts[0].ID != "w1" || workouts[1].ID != "w2" {
		t.Errorf("page order lost: %s, %s", workouts[0].ID, workouts[1].ID)
	}
	if u.loginCalls != 1 {
		t.Errorf("login called %d times, want 1", u.loginCalls)
	}
	if c.UserID() != "u123" {
		t.Errorf("user id = %q", c.UserID())
	}
}

func TestClientErrorClassification(t *testing.T) {
	u := newUpstream(t)
	u.mux.HandleFunc("/api/workout/redirected", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	})
	u.mux.HandleFunc("/api/workout/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "workout not found", http.StatusNotFound)
	})
	u.mux.HandleFunc("/api/workout/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream trouble", http.StatusInternalServerError)
	})

	c := u.client(t)
	ctx := context.Background()

	var redirectErr *RedirectError
	if _, err := c.WorkoutDetail(ctx, "redirected"); !errors.As(err, &redirectErr) {
		t.Errorf("want RedirectError, got %v", err)
	}

	var clientErr *ClientError
	if _, err := c.WorkoutDetail(ctx, "missing"); !errors.As(err, &clientErr) {
		t.Fatalf("want ClientError, got %v", err)
	}
	if clientErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", clientErr.StatusCode)
	}
	if clientErr.Message != "workout not found" {
		t.Errorf("message = %q", clientErr.Message)
	}

	var serverErr *ServerError
	if _, err := c.WorkoutDetail(ctx, "broken"); !errors.As(err, &serverErr) {
		t.Errorf("want ServerError, got %v", err)
	}
}

func TestClientLoginRetry(t *testing.T) {
	u := newUpstream(t)
	u.loginFails = 1
	u.mux.HandleFunc("/api/workout/w1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "w1"})
	})

	c := u.client(t)
	ctx := context.Background()

	var serverErr *ServerError
	if _, err := c.WorkoutDetail(ctx, "w1"); !errors.As(err, &serverErr) {
		t.Fatalf("want ServerError from login, got %v", err)
	}

	// the handshake is retried on the next call
	if _, err := c.WorkoutDetail(ctx, "w1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if u.loginCalls != 2 {
		t.Errorf("login called %d times, want 2", u.loginCalls)
	}
}

func TestClientWorkoutMetrics(t *testing.T) {
	u := newUpstream(t)
	u.mux.HandleFunc("/api/workout/w1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "w1", "fitness_discipline": "cycling"})
	})
	u.mux.HandleFunc("/api/workout/w1/performance_graph", func(w http.ResponseWriter, r *http.Request) {
		if everyN := r.URL.Query().Get("every_n"); everyN != "1" {
			t.Errorf("every_n = %q, want 1", everyN)
		}
		json.NewEncoder(w).Encode(metricsPayload())
	})

	c := u.client(t)
	ctx := context.Background()

	workout, err := c.Workout(ctx, "w1")
	if err != nil {
		t.Fatalf("workout: %v", err)
	}
	metrics, err := workout.Metrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics.OutputSummary == nil || metrics.OutputSummary.Value.StringFixed(1) != "180.5" {
		t.Errorf("unexpected summary: %+v", metrics.OutputSummary)
	}
}
