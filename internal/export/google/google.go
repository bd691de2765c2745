// Package google mirrors ledger events to a Google Sheets tab, one row per
// event.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"spesesync/internal/core"
	"spesesync/internal/export"
	"spesesync/internal/protocol"
)

// DefaultSheetName is the tab rows are appended to.
const DefaultSheetName = "Ledger"

var _ export.Exporter = (*Client)(nil)

// Config selects the spreadsheet and the service account. CredentialsJSON
// wins over CredentialsFile; with neither, GOOGLE_APPLICATION_CREDENTIALS is
// consulted.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
	Currency        string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
	currency      string
}

// New creates a Sheets exporter authenticated with a service account.
func New(ctx context.Context, cfg Config) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(svc, spreadsheetID, cfg.SheetName, cfg.Currency), nil
}

func newClient(svc *gsheet.Service, spreadsheetID, sheet, currency string) *Client {
	sheet = strings.TrimSpace(sheet)
	if sheet == "" {
		sheet = DefaultSheetName
	}
	if currency == "" {
		currency = core.DefaultCurrency
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet, currency: currency}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	credentialsJSON, err := serviceAccountCredentials(ctx, cfg)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func serviceAccountCredentials(ctx context.Context, cfg Config) ([]byte, error) {
	inline := strings.TrimSpace(cfg.CredentialsJSON)
	file := strings.TrimSpace(cfg.CredentialsFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		return []byte(inline), nil
	case file != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", file)
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// Export appends one row for the event and returns the updated range.
func (c *Client) Export(ctx context.Context, e *protocol.LedgerEvent) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}

	vr := &gsheet.ValueRange{Values: [][]interface{}{c.row(e)}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, c.sheet+"!A:F", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("append row: %w", err)
	}

	ref := c.sheet
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	slog.InfoContext(ctx, "Exported ledger event",
		"kind", e.Kind,
		"expense_id", e.Expense.ID,
		"range", ref)
	return ref, nil
}

// row renders [time, id, principal, category, amount, status].
func (c *Client) row(e *protocol.LedgerEvent) []interface{} {
	var principal string
	if e.Expense.Principal != nil {
		principal = *e.Expense.Principal
	}
	return []interface{}{
		e.Expense.Time.UTC().Format(time.RFC3339),
		e.Expense.ID.String(),
		principal,
		core.Label(e.Expense.Category),
		core.MajorUnits(e.Expense.Amount, c.currency),
		export.Status(e.Kind),
	}
}
