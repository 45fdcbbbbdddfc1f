package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"crest/internal/api"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func formatScore(score float64, colorize bool) string {
	value := strconv.FormatFloat(score, 'f', 1, 64)
	if !colorize {
		return value
	}
	switch {
	case score >= 70:
		return ansiGreen + value + ansiReset
	case score >= 40:
		return ansiYellow + value + ansiReset
	default:
		return ansiRed + value + ansiReset
	}
}

func formatCount(value int64) string {
	switch {
	case value >= 1_000_000:
		return strconv.FormatFloat(float64(value)/1_000_000, 'f', 1, 64) + "M"
	case value >= 1_000:
		return strconv.FormatFloat(float64(value)/1_000, 'f', 1, 64) + "K"
	default:
		return strconv.FormatInt(value, 10)
	}
}

func keywordHeading(verb string, keywords []string) string {
	display := cases.Title(language.Und).String(strings.Join(keywords, " "))
	return fmt.Sprintf("%s results for %q", verb, display)
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	if max <= 1 {
		return value[:max]
	}
	return value[:max-1] + "…"
}

func recordRows(records []api.TrendRecord, colorize bool) [][]string {
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		cluster := "-"
		if record.ClusterID != nil {
			cluster = strconv.Itoa(*record.ClusterID)
		}
		state := "fresh"
		switch {
		case record.Saved:
			state = "saved"
		case record.PointB != nil:
			state = "reconciled"
		case record.Pending:
			state = "pending"
		}
		rows = append(rows, []string{
			record.PlatformID,
			truncate(record.Description, 40),
			formatCount(record.PointA.Views),
			formatScore(record.Score, colorize),
			strconv.Itoa(record.CascadeCount),
			cluster,
			state,
		})
	}
	return rows
}

func printRecordTable(out io.Writer, records []api.TrendRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No records")
		return
	}
	headers := []string{"Video", "Description", "Views", "Score", "Cascade", "Cluster", "State"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft}
	fmt.Fprintln(out, renderTable(headers, recordRows(records, shouldColorize(out)), aligns))
}
