package audit

// GenerateReport aggregates the entries matching the filter into actor,
// module, and action breakdowns. The report carries the matching entries in
// append order so a reviewer can drill from a count into the records behind
// it.
func (l *Ledger) GenerateReport(f Filter) Report {
	entries := l.chronological(f)

	report := Report{
		GeneratedAt: l.now().UTC(),
		From:        f.From,
		To:          f.To,
		ByActor:     make(map[string]int),
		ByModule:    make(map[string]int),
		ByAction:    make(map[string]int),
		Entries:     entries,
	}
	for _, e := range entries {
		report.ByActor[e.ActorID]++
		report.ByModule[e.Module]++
		report.ByAction[string(e.Action)]++
	}
	return report
}
