package chesscom

import "time"

type Month struct {
	Year  int
	Month time.Month
}

func (m Month) archivePath() string {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC).Format("2006/01")
}

// MonthsInRange lists every calendar month touched by [start, end] in UTC, oldest first
func MonthsInRange(start, end time.Time) []Month {
	start = start.UTC()
	end = end.UTC()
	if end.Before(start) {
		return nil
	}

	months := []Month{}
	cursor := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(end) {
		months = append(months, Month{Year: cursor.Year(), Month: cursor.Month()})
		cursor = cursor.AddDate(0, 1, 0)
	}
	return months
}
