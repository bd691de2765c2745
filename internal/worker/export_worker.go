// Package worker applies ledger events consumed from the bus to an exporter.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"spesesync/internal/export"
	applog "spesesync/internal/log"
	"spesesync/internal/protocol"
)

// ExportWorker mirrors ledger events to an exporter.
type ExportWorker struct {
	exporter export.Exporter
}

func NewExportWorker(exporter export.Exporter) *ExportWorker {
	return &ExportWorker{exporter: exporter}
}

// HandleEvent exports one event. Invalid events are logged and dropped so the
// bus does not redeliver them; export failures are returned for a retry.
func (w *ExportWorker) HandleEvent(ctx context.Context, event *protocol.LedgerEvent) error {
	if err := event.Validate(); err != nil {
		slog.WarnContext(ctx, "Dropping invalid ledger event",
			applog.FieldComponent, applog.ComponentWorker,
			applog.FieldOperation, applog.OpValidate,
			applog.FieldError, err)
		return nil
	}

	slog.InfoContext(ctx, "Processing ledger event",
		applog.FieldComponent, applog.ComponentWorker,
		applog.FieldOperation, applog.OpExport,
		"kind", event.Kind,
		applog.FieldExpenseID, event.Expense.ID)

	ref, err := w.exporter.Export(ctx, event)
	if err != nil {
		if errors.Is(err, protocol.ErrInvalidEvent) {
			return nil
		}
		return fmt.Errorf("export event: %w", err)
	}

	slog.InfoContext(ctx, "Successfully exported ledger event",
		applog.FieldComponent, applog.ComponentWorker,
		applog.FieldExpenseID, event.Expense.ID,
		applog.FieldExportRef, ref)
	return nil
}
