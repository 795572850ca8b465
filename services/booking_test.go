package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"medivoice/models"
)

func testDraft() models.BookingDraft {
	return models.BookingDraft{
		Specialization: "Cardiology",
		Doctor:         "Any available",
		Date:           "tomorrow",
		Time:           "10 am",
		PatientName:    "Asha Rao",
		PatientPhone:   "9999888877",
	}
}

func TestBookingSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/appointments/" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req["source"] != "voice" {
			http.Error(w, "missing source", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"confirmation_id": "APT-7"})
	}))
	defer server.Close()

	id, err := NewBookingClient(server.URL).Submit(context.Background(), testDraft())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "APT-7" {
		t.Fatalf("confirmation id = %q", id)
	}
}

func TestBookingSubmitRetriesOnce(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "APT-8"})
	}))
	defer server.Close()

	id, err := NewBookingClient(server.URL).Submit(context.Background(), testDraft())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "APT-8" {
		t.Fatalf("confirmation id = %q", id)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", n)
	}
}

func TestBookingSubmitFailsAfterRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewBookingClient(server.URL).Submit(context.Background(), testDraft())
	if !errors.Is(err, ErrBookingSubmissionFailed) {
		t.Fatalf("expected ErrBookingSubmissionFailed, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("booking retried more than once: %d calls", n)
	}
}
