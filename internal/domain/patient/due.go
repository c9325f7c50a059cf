package patient

import "time"

// IsDue reports whether an active patient needs attention on today. A
// scheduled date wins; without one the entry frequency decides.
func IsDue(p Patient, today time.Time) bool {
	if p.Status != StatusActive {
		return false
	}
	day := DayStart(today)
	if p.NextScheduledDate != nil {
		return !DayStart(*p.NextScheduledDate).After(day)
	}
	if p.LastEntryDate == nil {
		return true
	}
	freq := p.EntryFrequencyDays
	if freq <= 0 {
		return false
	}
	elapsed := int(day.Sub(DayStart(*p.LastEntryDate)).Hours() / 24)
	return elapsed >= freq
}

// Summary is the dashboard view: totals per status and the number due today.
type Summary struct {
	Total    int            `json:"total"`
	Due      int            `json:"due"`
	ByStatus map[Status]int `json:"by_status"`
}

func summarize(counts map[Status]int, active []*Patient, today time.Time) Summary {
	s := Summary{ByStatus: make(map[Status]int, len(transitionTable))}
	for _, st := range AllStatuses() {
		s.ByStatus[st] = counts[st]
		s.Total += counts[st]
	}
	for _, p := range active {
		if IsDue(*p, today) {
			s.Due++
		}
	}
	return s
}
