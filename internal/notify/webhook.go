package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"weekplan/internal/domain"
	"weekplan/internal/timeutil"
)

// Webhook posts run reports as JSON to a fixed URL.
type Webhook struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Client  *http.Client
}

type Placed struct {
	TaskID      string    `json:"task_id"`
	Score       float64   `json:"score"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description"`
}

type Payload struct {
	RunID      string    `json:"run_id"`
	Now        time.Time `json:"now"`
	Horizon    string    `json:"horizon"`
	FreeSlots  int       `json:"free_slots"`
	Placed     []Placed  `json:"placed"`
	Unplaced   []string  `json:"unplaced"`
	FinishedAt time.Time `json:"finished_at"`
	// Summary is a human readable digest, one line per placement.
	Summary string `json:"summary"`
}

func NewPayload(run domain.RunReport) Payload {
	p := Payload{
		RunID:      run.RunID,
		Now:        run.Now,
		Horizon:    run.Horizon,
		FreeSlots:  run.FreeSlots,
		Placed:     make([]Placed, 0, len(run.Placed)),
		Unplaced:   append([]string{}, run.Unplaced...),
		FinishedAt: run.FinishedAt,
	}
	var sum bytes.Buffer
	for _, pl := range run.Placed {
		p.Placed = append(p.Placed, Placed{
			TaskID:      pl.Task.ID,
			Score:       pl.Task.Score,
			Start:       pl.Event.Start,
			End:         pl.Event.End,
			Description: pl.Event.Description,
		})
		fmt.Fprintf(&sum, "%s: %s %s - %s\n", pl.Task.ID,
			timeutil.HumanDate(pl.Event.Start), timeutil.HumanHour(pl.Event.Start), timeutil.HumanHour(pl.Event.End))
	}
	if len(run.Unplaced) > 0 {
		fmt.Fprintf(&sum, "%d task(s) did not fit\n", len(run.Unplaced))
	}
	p.Summary = sum.String()
	return p
}

func (h Webhook) Send(ctx context.Context, run domain.RunReport) error {
	if h.URL == "" {
		return fmt.Errorf("URL is required")
	}
	body, err := json.Marshal(NewPayload(run))
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}

	client := h.Client
	if client == nil {
		timeout := h.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
