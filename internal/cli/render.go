package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"spesesync/internal/core"
	"spesesync/internal/ledger"
)

const (
	timeLayout = "2006-01-02 15:04"
	notLoaded  = "…"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func (a *app) amount(v uint64) string {
	return core.FormatAmount(v, a.cfg.Currency)
}

func (a *app) writeEntries(w io.Writer, entries []ledger.Entry) error {
	tw := newTable(w)
	for _, e := range entries {
		if !e.Loaded() {
			fmt.Fprintln(tw, notLoaded)
			continue
		}
		state := "confirmed"
		if e.Kind() == ledger.Provisional {
			state = "pending"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.ID(),
			e.Time().Local().Format(timeLayout),
			core.Label(e.Category()),
			a.amount(e.Amount()),
			state)
	}
	return tw.Flush()
}

func (a *app) writeSummary(w io.Writer, view *ledger.View) error {
	lifetime := view.LifetimeSummary()
	window := view.WindowSummary()

	tw := newTable(w)
	fmt.Fprintf(tw, "lifetime\t%s\t%d\n", a.amount(lifetime.Total), lifetime.Alive)
	fmt.Fprintf(tw, "last %d days\t%s\t%d\n", a.cfg.WindowDays, a.amount(window.Total), window.Alive)
	if pending := view.Pending(); pending > 0 {
		fmt.Fprintf(tw, "pending\t\t%d\n", pending)
	}
	return tw.Flush()
}

func (a *app) writeBreakdown(w io.Writer, rows []core.CategoryAmount) error {
	tw := newTable(w)
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r.Name, a.amount(r.Amount))
	}
	return tw.Flush()
}
