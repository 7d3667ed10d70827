package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"crypto-price-alerts/internal/storage"
)

// Show prints recent alert lifecycle events.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	var events []storage.HistoryEvent
	if opts.AlertID > 0 {
		events, err = store.ListEventsByAlert(ctx, opts.AlertID, opts.Limit)
	} else {
		events, err = store.ListRecentEvents(ctx, opts.Limit)
	}
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no events found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAlert\tEvent\tTransition\tDetails")

	for _, event := range events {
		alertID := "-"
		if event.AlertID != nil {
			alertID = fmt.Sprintf("#%d", *event.AlertID)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			event.CreatedAt.UTC().Format(time.RFC3339),
			alertID,
			event.EventType,
			formatTransition(event),
			sanitizeInline(string(event.Metadata)),
		)
	}

	writer.Flush()
	return nil
}

func formatTransition(event storage.HistoryEvent) string {
	if event.OldState == nil && event.NewState == nil {
		return "-"
	}
	old, next := "-", "-"
	if event.OldState != nil {
		old = string(*event.OldState)
	}
	if event.NewState != nil {
		next = string(*event.NewState)
	}
	return old + " -> " + next
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
