package analytics

import (
	"math"
	"sort"
	"strings"
)

// Device categories as they appear in analytics exports, lower-cased.
const (
	Desktop = "desktop"
	Mobile  = "mobile"
	Tablet  = "tablet"
)

// Operating system families inferred from device brands.
const (
	OSWindowsOther = "Windows/Other"
	OSMacOS        = "macOS"
	OSiOS          = "iOS"
	OSiPadOS       = "iPadOS"
	OSAndroid      = "Android"
)

// Tier is a testing priority.
type Tier string

// Tiers, by share within a category.
const (
	Tier1     Tier = "Tier 1"     // more than 20%
	Tier2     Tier = "Tier 2"     // 5% to 20%
	NotTested Tier = "Not Tested" // below 5%
)

// Tier thresholds in percent.
const (
	Tier1Threshold = 20.0
	Tier2Threshold = 5.0
)

// Classify returns the tier for a share in percent.
func Classify(pct float64) Tier {
	switch {
	case pct > Tier1Threshold:
		return Tier1
	case pct >= Tier2Threshold:
		return Tier2
	default:
		return NotTested
	}
}

// Share is a named slice of a total.
type Share struct {
	Name       string
	Sessions   float64
	Percentage float64 // One decimal.
	Tier       Tier
}

// Analysis holds shares across every device and browser sheet. Maps are
// keyed by lower-cased device category.
type Analysis struct {
	Categories []Share
	OS         map[string][]Share
	Browsers   map[string][]Share
}

// Analyze computes category, operating system and browser shares. Browser
// shares need a device category column in the browser sheets; without it
// Browsers is empty.
func (w *Workbook) Analyze() Analysis {
	a := Analysis{
		OS:       make(map[string][]Share),
		Browsers: make(map[string][]Share),
	}

	var devices []DeviceRow
	for _, s := range w.Devices {
		devices = append(devices, s.Rows...)
	}

	a.Categories = shares(sumBy(devices,
		func(r DeviceRow) []string { return []string{normalizeCategory(r.Category)} },
		func(r DeviceRow) float64 { return r.Sessions }))

	byCat := make(map[string][]DeviceRow)
	for _, r := range devices {
		cat := normalizeCategory(r.Category)
		byCat[cat] = append(byCat[cat], r)
	}

	for cat, rows := range byCat {
		if cat != Desktop && cat != Mobile && cat != Tablet {
			continue
		}
		a.OS[cat] = shares(sumBy(rows,
			func(r DeviceRow) []string { return []string{osFamily(cat, r.Brand)} },
			func(r DeviceRow) float64 { return r.Sessions }))
	}

	var browsers []BrowserRow
	for _, s := range w.Browsers {
		if s.HasCategory {
			browsers = append(browsers, s.Rows...)
		}
	}

	browsersByCat := make(map[string][]BrowserRow)
	for _, r := range browsers {
		cat := normalizeCategory(r.Category)
		browsersByCat[cat] = append(browsersByCat[cat], r)
	}

	for cat, rows := range browsersByCat {
		a.Browsers[cat] = shares(sumBy(rows,
			func(r BrowserRow) []string { return []string{r.Browser} },
			func(r BrowserRow) float64 { return r.Sessions }))
	}

	return a
}

// OSPercentage returns the share of os within category, or 0.
func (a Analysis) OSPercentage(category, os string) float64 {
	return find(a.OS[category], os).Percentage
}

// CategoryPercentage returns the share of a device category, or 0.
func (a Analysis) CategoryPercentage(category string) float64 {
	return find(a.Categories, category).Percentage
}

// BrowserShares returns the browser shares within category, highest first.
func (a Analysis) BrowserShares(category string) []Share {
	return a.Browsers[category]
}

// ByTier returns the shares that fall in tier, keeping order.
func ByTier(shares []Share, tier Tier) []Share {
	var out []Share
	for _, s := range shares {
		if s.Tier == tier {
			out = append(out, s)
		}
	}
	return out
}

func find(shares []Share, name string) Share {
	for _, s := range shares {
		if s.Name == name {
			return s
		}
	}
	return Share{}
}

// shares turns groups into percentages of their sum, highest first. Tiers
// come from the exact share, not the rounded one.
func shares(groups []group) []Share {
	total := 0.0
	for _, g := range groups {
		total += g.sessions
	}

	out := make([]Share, 0, len(groups))
	for _, g := range topN(groups, len(groups)) {
		pct := percent(g.sessions, total)
		out = append(out, Share{
			Name:       g.key[0],
			Sessions:   g.sessions,
			Percentage: round1(pct),
			Tier:       Classify(pct),
		})
	}

	return out
}

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

// osFamily infers the operating system from the device brand; device sheets
// carry no OS column.
func osFamily(category, brand string) string {
	apple := strings.EqualFold(strings.TrimSpace(brand), "Apple")

	switch category {
	case Desktop:
		if apple {
			return OSMacOS
		}
		return OSWindowsOther
	case Mobile:
		if apple {
			return OSiOS
		}
		return OSAndroid
	default:
		if apple {
			return OSiPadOS
		}
		return OSAndroid
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Categories returns the keys of a share map in a fixed order: desktop,
// mobile, tablet, then any others sorted.
func Categories(m map[string][]Share) []string {
	var out []string
	for _, c := range []string{Desktop, Mobile, Tablet} {
		if _, ok := m[c]; ok {
			out = append(out, c)
		}
	}

	var rest []string
	for c := range m {
		if c != Desktop && c != Mobile && c != Tablet {
			rest = append(rest, c)
		}
	}
	sort.Strings(rest)

	return append(out, rest...)
}
