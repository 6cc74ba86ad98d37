package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"weekplan/internal/domain"
	"weekplan/internal/timeutil"
)

type agendaItem struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Start       string `json:"start"`
	End         string `json:"end"`
	FromTask    bool   `json:"from_task"`
	Completed   bool   `json:"completed"`
}

type agendaDay struct {
	Date   string       `json:"date"`
	Events []agendaItem `json:"events"`
}

// groupByDay buckets events by the calendar day of their start in loc.
// Events arrive sorted by start, so days come out in order.
func groupByDay(events []domain.Event, loc *time.Location) []agendaDay {
	days := []agendaDay{}
	for _, e := range events {
		start, end := e.Start.In(loc), e.End.In(loc)
		date := timeutil.HumanDate(start)
		if len(days) == 0 || days[len(days)-1].Date != date {
			days = append(days, agendaDay{Date: date})
		}
		d := &days[len(days)-1]
		d.Events = append(d.Events, agendaItem{
			ID:          e.ID,
			Description: e.Description,
			Start:       timeutil.HumanHour(start),
			End:         timeutil.HumanHour(end),
			FromTask:    e.FromTask,
			Completed:   e.Completed,
		})
	}
	return days
}

func (s *Server) agenda(w http.ResponseWriter, r *http.Request) {
	events, now, err := s.window(r)
	if err != nil {
		writeError(w, err)
		return
	}
	days := groupByDay(events, now.Location())

	if r.URL.Query().Get("format") != "text" {
		writeJSON(w, 200, days)
		return
	}

	var b strings.Builder
	if len(days) == 0 {
		b.WriteString("Nothing planned.\n")
	}
	for _, d := range days {
		fmt.Fprintf(&b, "%s\n", d.Date)
		for _, e := range d.Events {
			name := e.ID
			if e.Description != "" {
				name += " (" + e.Description + ")"
			}
			fmt.Fprintf(&b, "  %s - %s  %s\n", e.Start, e.End, name)
		}
	}
	w.Header().Set("content-type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.String()))
}
