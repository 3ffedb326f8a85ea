package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/goliatone/go-ingest/core"
)

func writeJSON(out io.Writer, doc any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}

type dispatchDoc struct {
	DispatchID  string     `json:"dispatch_id"`
	EventID     string     `json:"event_id"`
	ExternalID  string     `json:"external_id,omitempty"`
	Category    string     `json:"category,omitempty"`
	TenantHint  string     `json:"tenant_hint,omitempty"`
	Consumer    string     `json:"consumer"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

type dispatchPageDoc struct {
	Dispatches []dispatchDoc `json:"dispatches"`
	Page       int           `json:"page"`
	PerPage    int           `json:"per_page"`
	Total      int           `json:"total"`
	HasNext    bool          `json:"has_next"`
}

func newDispatchPageDoc(page core.DispatchPage) dispatchPageDoc {
	doc := dispatchPageDoc{
		Dispatches: make([]dispatchDoc, 0, len(page.Items)),
		Page:       page.Page,
		PerPage:    page.PerPage,
		Total:      page.Total,
		HasNext:    page.HasNext,
	}
	for _, row := range page.Items {
		doc.Dispatches = append(doc.Dispatches, dispatchDoc{
			DispatchID:  row.ID,
			EventID:     row.EventID,
			ExternalID:  row.EventExternalID,
			Category:    row.EventCategory,
			TenantHint:  row.TenantHint,
			Consumer:    row.Consumer,
			Status:      string(row.Status),
			Attempts:    row.Attempts,
			NextRetryAt: row.NextRetryAt,
			LastError:   row.LastError,
		})
	}
	return doc
}

type eventDoc struct {
	EventID    string     `json:"event_id"`
	ExternalID string     `json:"external_id"`
	Category   string     `json:"category"`
	TenantHint string     `json:"tenant_hint,omitempty"`
	Outcome    string     `json:"outcome"`
	Attempts   int        `json:"attempts"`
	ReceivedAt time.Time  `json:"received_at"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

type eventPageDoc struct {
	Events  []eventDoc `json:"events"`
	Page    int        `json:"page"`
	PerPage int        `json:"per_page"`
	Total   int        `json:"total"`
	HasNext bool       `json:"has_next"`
}

func newEventDoc(event core.Event) eventDoc {
	return eventDoc{
		EventID:    event.ID,
		ExternalID: event.ExternalID,
		Category:   event.Category,
		TenantHint: event.TenantHint,
		Outcome:    string(event.Outcome),
		Attempts:   event.Attempts,
		ReceivedAt: event.ReceivedAt,
		OccurredAt: event.OccurredAt,
		LastError:  event.LastError,
	}
}

func newEventPageDoc(page core.EventPage) eventPageDoc {
	doc := eventPageDoc{
		Events:  make([]eventDoc, 0, len(page.Items)),
		Page:    page.Page,
		PerPage: page.PerPage,
		Total:   page.Total,
		HasNext: page.HasNext,
	}
	for _, event := range page.Items {
		doc.Events = append(doc.Events, newEventDoc(event))
	}
	return doc
}

type eventDetailDoc struct {
	Event      eventDoc       `json:"event"`
	Payload    map[string]any `json:"payload,omitempty"`
	Dispatches []dispatchDoc  `json:"dispatches"`
}

func newEventDetailDoc(event core.Event, dispatches []core.Dispatch) eventDetailDoc {
	doc := eventDetailDoc{
		Event:      newEventDoc(event),
		Payload:    event.Payload,
		Dispatches: make([]dispatchDoc, 0, len(dispatches)),
	}
	for _, row := range dispatches {
		doc.Dispatches = append(doc.Dispatches, dispatchDoc{
			DispatchID:  row.ID,
			EventID:     row.EventID,
			Consumer:    row.Consumer,
			Status:      string(row.Status),
			Attempts:    row.Attempts,
			NextRetryAt: row.NextRetryAt,
			LastError:   row.LastError,
		})
	}
	return doc
}

type replayTargetDoc struct {
	DispatchID string `json:"dispatch_id"`
	EventID    string `json:"event_id"`
	Consumer   string `json:"consumer"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
}

type replayTargetsDoc struct {
	Targets []replayTargetDoc `json:"targets"`
}

func newReplayTargetsDoc(targets []core.ReplayTarget) replayTargetsDoc {
	doc := replayTargetsDoc{Targets: make([]replayTargetDoc, 0, len(targets))}
	for _, target := range targets {
		doc.Targets = append(doc.Targets, replayTargetDoc{
			DispatchID: target.DispatchID,
			EventID:    target.EventID,
			Consumer:   target.Consumer,
			Status:     string(target.Status),
			Attempts:   target.Attempts,
		})
	}
	return doc
}

type replayResultDoc struct {
	EventID   string `json:"event_id"`
	Outcome   string `json:"outcome"`
	Attempted int    `json:"attempted"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

type replayReportDoc struct {
	Results []replayResultDoc `json:"results"`
	Errors  []string          `json:"errors,omitempty"`
}

func newReplayReportDoc(outcome replayOutcome) replayReportDoc {
	doc := replayReportDoc{
		Results: make([]replayResultDoc, 0, len(outcome.Results)),
		Errors:  outcome.Errors,
	}
	for _, result := range outcome.Results {
		doc.Results = append(doc.Results, replayResultDoc{
			EventID:   result.EventID,
			Outcome:   string(result.Outcome),
			Attempted: result.Attempted,
			Succeeded: result.Succeeded,
			Failed:    result.Failed,
			Skipped:   result.Skipped,
		})
	}
	return doc
}

func renderDispatchPage(out io.Writer, page core.DispatchPage) {
	if len(page.Items) == 0 {
		fmt.Fprintln(out, "no dispatches matched")
		return
	}
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "DISPATCH ID\tEVENT ID\tEXTERNAL ID\tCATEGORY\tTENANT\tCONSUMER\tSTATUS\tATTEMPTS\tNEXT RETRY\tLAST ERROR")
	for _, row := range page.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			row.ID, row.EventID, row.EventExternalID, row.EventCategory, row.TenantHint,
			row.Consumer, row.Status, row.Attempts, formatTime(row.NextRetryAt), clip(row.LastError, 60))
	}
	_ = w.Flush()
	fmt.Fprintf(out, "page %d: %d of %d row(s)%s\n", page.Page, len(page.Items), page.Total, moreMarker(page.HasNext))
}

func renderEventPage(out io.Writer, page core.EventPage) {
	if len(page.Items) == 0 {
		fmt.Fprintln(out, "no events matched")
		return
	}
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT ID\tEXTERNAL ID\tCATEGORY\tTENANT\tOUTCOME\tATTEMPTS\tRECEIVED\tLAST ERROR")
	for _, event := range page.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			event.ID, event.ExternalID, event.Category, event.TenantHint,
			event.Outcome, event.Attempts, event.ReceivedAt.UTC().Format(time.RFC3339), clip(event.LastError, 60))
	}
	_ = w.Flush()
	fmt.Fprintf(out, "page %d: %d of %d row(s)%s\n", page.Page, len(page.Items), page.Total, moreMarker(page.HasNext))
}

func renderEventDetail(out io.Writer, event core.Event, dispatches []core.Dispatch) {
	fmt.Fprintf(out, "event %s\n", event.ID)
	fmt.Fprintf(out, "  external id: %s\n", event.ExternalID)
	fmt.Fprintf(out, "  category:    %s\n", event.Category)
	if event.TenantHint != "" {
		fmt.Fprintf(out, "  tenant:      %s\n", event.TenantHint)
	}
	fmt.Fprintf(out, "  outcome:     %s\n", event.Outcome)
	fmt.Fprintf(out, "  attempts:    %d\n", event.Attempts)
	fmt.Fprintf(out, "  received:    %s\n", event.ReceivedAt.UTC().Format(time.RFC3339))
	if event.OccurredAt != nil {
		fmt.Fprintf(out, "  occurred:    %s\n", event.OccurredAt.UTC().Format(time.RFC3339))
	}
	if event.LastError != "" {
		fmt.Fprintf(out, "  last error:  %s\n", event.LastError)
	}
	if len(event.Payload) > 0 {
		if encoded, err := json.Marshal(event.Payload); err == nil {
			fmt.Fprintf(out, "  payload:     %s\n", clip(string(encoded), 200))
		}
	}
	if len(dispatches) == 0 {
		fmt.Fprintln(out, "no dispatch rows")
		return
	}
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "DISPATCH ID\tCONSUMER\tSTATUS\tATTEMPTS\tNEXT RETRY\tLAST ERROR")
	for _, row := range dispatches {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			row.ID, row.Consumer, row.Status, row.Attempts, formatTime(row.NextRetryAt), clip(row.LastError, 60))
	}
	_ = w.Flush()
}

func renderReplayTargets(out io.Writer, targets []core.ReplayTarget) {
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "DISPATCH ID\tEVENT ID\tCONSUMER\tSTATUS\tATTEMPTS")
	for _, target := range targets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			target.DispatchID, target.EventID, target.Consumer, target.Status, target.Attempts)
	}
	_ = w.Flush()
	fmt.Fprintf(out, "%d replay target(s)\n", len(targets))
}

func renderReplayOutcome(out, errOut io.Writer, outcome replayOutcome) {
	for _, result := range outcome.Results {
		fmt.Fprintf(out, "event %s: %s (%d attempted, %d succeeded, %d failed, %d skipped)\n",
			result.EventID, result.Outcome, result.Attempted, result.Succeeded, result.Failed, result.Skipped)
	}
	for _, msg := range outcome.Errors {
		fmt.Fprintf(errOut, "Error: %s\n", msg)
	}
	fmt.Fprintf(out, "%d replay(s) executed, %d error(s)\n", len(outcome.Results), len(outcome.Errors))
}

func formatTime(value *time.Time) string {
	if value == nil {
		return "-"
	}
	return value.UTC().Format(time.RFC3339)
}

func moreMarker(hasNext bool) string {
	if hasNext {
		return ", more available"
	}
	return ""
}

func clip(value string, max int) string {
	if len(value) <= max {
		return value
	}
	if max <= 3 {
		return value[:max]
	}
	return value[:max-3] + "..."
}
