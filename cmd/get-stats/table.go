package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/olekukonko/tablewriter"
)

func renderTable(w io.Writer, rows [][]string) error {
	t := tablewriter.NewWriter(w)
	t.Header("Field", "Value")
	if err := t.Bulk(rows); err != nil {
		return err
	}
	return t.Render()
}

func formatLast10(results []domain.Result) string {
	letters := make([]string, 0, len(results))
	for _, result := range results {
		switch result {
		case domain.ResultWin:
			letters = append(letters, "W")
		case domain.ResultLoss:
			letters = append(letters, "L")
		case domain.ResultDraw:
			letters = append(letters, "D")
		}
	}
	return strings.Join(letters, " ")
}

func optionalInt(value *int) string {
	if value == nil {
		return "-"
	}
	return strconv.Itoa(*value)
}

func tournamentRows(tournament *domain.TournamentContext) [][]string {
	if tournament == nil {
		return [][]string{{"Tournament", "none"}}
	}

	score := "-"
	if tournament.PlayerScore != nil {
		score = strconv.FormatFloat(*tournament.PlayerScore, 'f', -1, 64)
	}
	ends := "open"
	if tournament.EndTime != nil {
		ends = tournament.EndTime.Local().Format(time.DateTime)
	}

	return [][]string{
		{"Tournament", fmt.Sprintf("%s (%s)", tournament.Name, tournament.ID)},
		{"Status", string(tournament.Status)},
		{"Category", string(tournament.Category)},
		{"Rank", fmt.Sprintf("%s / %s", optionalInt(tournament.PlayerRank), optionalInt(tournament.TotalPlayers))},
		{"Score", score},
		{"Ends", ends},
	}
}

func renderStats(w io.Writer, stats domain.Stats) error {
	rows := [][]string{
		{"Rating", fmt.Sprintf("%d (%s)", stats.Rating, stats.RatingCategory)},
		{"Record", fmt.Sprintf("%d W / %d L / %d D", stats.Wins, stats.Losses, stats.Draws)},
		{"Score", fmt.Sprintf("%s / %d", strconv.FormatFloat(stats.Score, 'f', -1, 64), stats.TotalGames)},
		{"Last 10", formatLast10(stats.Last10)},
		{"Streak", fmt.Sprintf("%d %s", stats.CurrentStreak, stats.StreakType)},
	}
	rows = append(rows, tournamentRows(stats.Tournament)...)
	return renderTable(w, rows)
}

func renderTournament(w io.Writer, tournament *domain.TournamentContext) error {
	return renderTable(w, tournamentRows(tournament))
}
