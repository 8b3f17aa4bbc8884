package analytics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	topDevices     = 5
	topBrowsers    = 5
	topResolutions = 3
)

// group is a summed key, kept in first-seen order until sorted.
type group struct {
	key      []string
	sessions float64
}

// sumBy totals sessions per key. Rows with a blank key part are left out, as
// a groupby over missing cells would. Groups come back sorted by key so equal
// totals later keep a deterministic order.
func sumBy[T any](rows []T, key func(T) []string, sessions func(T) float64) []group {
	index := make(map[string]int)

	var groups []group
	for _, r := range rows {
		k := key(r)
		if hasBlank(k) {
			continue
		}
		id := strings.Join(k, "\x00")

		i, ok := index[id]
		if !ok {
			i = len(groups)
			index[id] = i
			groups = append(groups, group{key: k})
		}
		groups[i].sessions += sessions(r)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return strings.Join(groups[i].key, "\x00") < strings.Join(groups[j].key, "\x00")
	})

	return groups
}

func hasBlank(key []string) bool {
	for _, part := range key {
		if strings.TrimSpace(part) == "" {
			return true
		}
	}
	return false
}

// topN sorts groups by sessions, highest first, and keeps n.
func topN(groups []group, n int) []group {
	sorted := make([]group, len(groups))
	copy(sorted, groups)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].sessions > sorted[j].sessions
	})

	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// Summarize renders the workbook as the knowledge text given to the QA
// agents: device sheets first, then browser sheets, each with totals,
// breakdowns and top entries.
func (w *Workbook) Summarize() string {
	var lines []string

	for _, sheet := range w.Devices {
		total := 0.0
		for _, r := range sheet.Rows {
			total += r.Sessions
		}

		lines = append(lines,
			fmt.Sprintf("\n--- %s ---", sheet.Name),
			"Total sessions: "+formatCount(total),
			"Device category breakdown:",
		)

		cats := sumBy(sheet.Rows,
			func(r DeviceRow) []string { return []string{r.Category} },
			func(r DeviceRow) float64 { return r.Sessions })
		for _, g := range cats {
			lines = append(lines, fmt.Sprintf("  %s: %s sessions (%.1f%%)",
				g.key[0], formatCount(g.sessions), percent(g.sessions, total)))
		}

		lines = append(lines, "Top devices:")

		devices := sumBy(sheet.Rows,
			func(r DeviceRow) []string { return []string{r.Brand, r.Model} },
			func(r DeviceRow) float64 { return r.Sessions })
		for _, g := range topN(devices, topDevices) {
			lines = append(lines, fmt.Sprintf("  %s %s: %s sessions",
				g.key[0], g.key[1], formatCount(g.sessions)))
		}
	}

	for _, sheet := range w.Browsers {
		total := 0.0
		for _, r := range sheet.Rows {
			total += r.Sessions
		}

		lines = append(lines,
			fmt.Sprintf("\n--- %s ---", sheet.Name),
			"Total sessions: "+formatCount(total),
			"Top browsers and versions:",
		)

		browsers := sumBy(sheet.Rows,
			func(r BrowserRow) []string { return []string{r.Browser, r.Version} },
			func(r BrowserRow) float64 { return r.Sessions })
		for _, g := range topN(browsers, topBrowsers) {
			lines = append(lines, fmt.Sprintf("  %s %s: %s sessions (%.1f%%)",
				g.key[0], g.key[1], formatCount(g.sessions), percent(g.sessions, total)))
		}

		lines = append(lines, "Top screen resolutions:")

		resolutions := sumBy(sheet.Rows,
			func(r BrowserRow) []string { return []string{r.Resolution} },
			func(r BrowserRow) float64 { return r.Sessions })
		for _, g := range topN(resolutions, topResolutions) {
			lines = append(lines, fmt.Sprintf("  %s: %s sessions (%.1f%%)",
				g.key[0], formatCount(g.sessions), percent(g.sessions, total)))
		}
	}

	return strings.Join(lines, "\n")
}

func percent(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return part / total * 100
}

// formatCount prints whole numbers without a fraction.
func formatCount(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
