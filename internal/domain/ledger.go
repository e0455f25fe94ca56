package domain

import "time"

// Ledger is the persisted form of the manual adjustments, valid for the calendar day of Timestamp
type Ledger struct {
	Adjustments
	Timestamp time.Time
}

func SameCalendarDay(a, b time.Time, location *time.Location) bool {
	ay, am, ad := a.In(location).Date()
	by, bm, bd := b.In(location).Date()
	return ay == by && am == bm && ad == bd
}

// EffectiveAt returns the adjustments that apply at the given time, dropping entries from a previous day
func (l Ledger) EffectiveAt(at time.Time, location *time.Location) Adjustments {
	if !SameCalendarDay(l.Timestamp, at, location) {
		return Adjustments{}
	}
	return l.Adjustments
}
