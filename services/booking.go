package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"medivoice/models"
)

// BookingClient submits finished booking drafts to the appointment REST
// backend.
type BookingClient struct {
	baseURL string
	client  *http.Client
}

// NewBookingClient creates a client for the backend at baseURL.
func NewBookingClient(baseURL string) *BookingClient {
	return &BookingClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type bookingRequest struct {
	Symptoms       string `json:"symptoms,omitempty"`
	Specialization string `json:"specialization"`
	Doctor         string `json:"doctor"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	PatientName    string `json:"patient_name"`
	PatientPhone   string `json:"patient_phone"`
	Source         string `json:"source"`
}

type bookingResponse struct {
	ConfirmationID string `json:"confirmation_id"`
	ID             string `json:"id"`
}

// Submit sends the draft to the backend and returns the confirmation id.
// One retry on transient failure; booking errors are reported, never
// retried indefinitely.
func (b *BookingClient) Submit(ctx context.Context, draft models.BookingDraft) (string, error) {
	id, err := b.submitOnce(ctx, draft)
	if err == nil {
		return id, nil
	}
	log.Printf("booking submission failed, retrying once: %v", err)
	id, retryErr := b.submitOnce(ctx, draft)
	if retryErr != nil {
		return "", fmt.Errorf("%w: %v", ErrBookingSubmissionFailed, retryErr)
	}
	return id, nil
}

func (b *BookingClient) submitOnce(ctx context.Context, draft models.BookingDraft) (string, error) {
	payload, err := json.Marshal(bookingRequest{
		Symptoms:       draft.Symptoms,
		Specialization: draft.Specialization,
		Doctor:         draft.Doctor,
		Date:           draft.Date,
		Time:           draft.Time,
		PatientName:    draft.PatientName,
		PatientPhone:   draft.PatientPhone,
		Source:         "voice",
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/appointments/", bytes.NewBuffer(payload))
	if err != nil {
		return "", err
	}
	req.Header.Add("Content-Type", "application/json")

	res, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("appointment backend returned status %d", res.StatusCode)
	}
	var resp bookingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing booking response: %w", err)
	}
	if resp.ConfirmationID != "" {
		return resp.ConfirmationID, nil
	}
	return resp.ID, nil
}
