package report

import (
	"fmt"
	"io"

	"subwatch/internal/difficulty"
)

// WriteLeaderboard renders standings as numbered lines.
func WriteLeaderboard(w io.Writer, rows []Standing, opt LeaderboardOptions) error {
	opt = opt.withDefaults()
	lo, _ := opt.Palette.Name(opt.MinLevel)
	hi, _ := opt.Palette.Name(opt.MaxLevel)
	if _, err := fmt.Fprintf(w, "Leaderboard: last %d days, %s .. %s\n", opt.Days, lo, hi); err != nil {
		return err
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "(no submissions)")
		return err
	}
	for i, r := range rows {
		if _, err := fmt.Fprintf(w, "%2d. %s (%s): %d\n", i+1, r.DisplayName, r.AccountID, r.Count); err != nil {
			return err
		}
	}
	return nil
}

// WriteRecords renders one records page.
func WriteRecords(w io.Writer, p Page) error {
	if _, err := fmt.Fprintf(w, "%s (%s): %d records, page %d/%d\n", p.DisplayName, p.AccountID, p.Total, p.Page, max(p.Pages, 1)); err != nil {
		return err
	}
	for _, r := range p.Rows {
		label := r.Difficulty
		if label == "" {
			label = difficulty.Unknown
		}
		if _, err := fmt.Fprintf(w, "%s  %-8s [%s] %s\n", r.PostDate, r.ProblemNumber, label, r.ProblemName); err != nil {
			return err
		}
	}
	return nil
}

// WriteRoster renders the viewer's monitored accounts.
func WriteRoster(w io.Writer, viewer string, entries []RosterEntry) error {
	if _, err := fmt.Fprintf(w, "%s monitors %d accounts\n", viewer, len(entries)); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "  %s  %s\n", e.AccountID, e.DisplayName); err != nil {
			return err
		}
	}
	return nil
}
