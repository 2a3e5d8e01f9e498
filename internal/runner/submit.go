package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/polarlab/brisk/internal/task"
)

// Submission is the wire payload for a finished task run.
type Submission struct {
	SessionID     string             `json:"session_id"`
	TaskType      string             `json:"task_type"`
	TaskVersion   string             `json:"task_version"`
	StartedAt     int64              `json:"started_at"`
	EndedAt       int64              `json:"ended_at"`
	DurationMs    int                `json:"duration_ms"`
	InputModality string             `json:"input_modality"`
	IsPartial     bool               `json:"is_partial"`
	Trials        []task.Trial       `json:"trials"`
	Summary       map[string]float64 `json:"summary"`
	Interruptions []Interruption     `json:"interruptions,omitempty"`
	AbortReason   string             `json:"abort_reason,omitempty"`
}

// Ack is the server's acceptance response.
type Ack struct {
	Accepted        bool     `json:"accepted"`
	NextTask        string   `json:"next_task,omitempty"`
	SessionComplete bool     `json:"session_complete"`
	IsPartial       bool     `json:"is_partial"`
	QualityFlags    []string `json:"quality_flags,omitempty"`
}

// Submitter delivers finished runs to the collection service.
type Submitter interface {
	Submit(ctx context.Context, sub *Submission) (*Ack, error)
}

// NewSubmission converts a terminal outcome into its wire form. Null summary
// metrics are omitted; the server recomputes and compares the rest.
func NewSubmission(o *Outcome, inputModality string) *Submission {
	summary := make(map[string]float64, len(o.Summary))
	for k, v := range o.Summary {
		if v != nil {
			summary[k] = *v
		}
	}
	return &Submission{
		SessionID:     o.SessionID,
		TaskType:      o.TaskType,
		TaskVersion:   o.TaskVersion,
		StartedAt:     o.StartedAtMs,
		EndedAt:       o.EndedAtMs,
		DurationMs:    o.ElapsedMs,
		InputModality: inputModality,
		IsPartial:     o.IsPartial,
		Trials:        o.Trials,
		Summary:       summary,
		Interruptions: o.Interruptions,
		AbortReason:   o.AbortReason,
	}
}

// HTTPSubmitter posts submissions to the collection API.
type HTTPSubmitter struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPSubmitter builds a submitter with a sane default timeout.
func NewHTTPSubmitter(baseURL, token string) *HTTPSubmitter {
	return &HTTPSubmitter{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (h *HTTPSubmitter) Submit(ctx context.Context, sub *Submission) (*Ack, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("submit result: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/api/results", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("submit result: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("submit result: server returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("submit result: decode response: %w", err)
	}
	return &ack, nil
}
