package qaplan

import (
	"bytes"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/germanamz/promptkit/pkg/analytics"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.New("").Funcs(template.FuncMap{
	"pct":        formatPercent,
	"categories": analytics.Categories,
	"title":      func(s string) string { return cases.Title(language.English).String(s) },
}).ParseFS(promptFS, "prompts/*.tmpl"))

const (
	// WorkerPersona is the persona of the agent that writes the matrix.
	WorkerPersona = "Software Quality Assurance Expert"
	// EvaluatorPersona is the persona of the judge.
	EvaluatorPersona = "Software Quality Assurance Expert Evaluator"

	// EvaluationCriteria is what the judge checks the matrix against.
	EvaluationCriteria = "The QA matrix should be accurate, clear, and adhere strictly to the provided instructions. " +
		"It must reflect the actual usage patterns from the analytics data without fabricating any statistics. " +
		"The tier classifications must be correct based on the specified percentage thresholds. " +
		"The response should be well-structured and easy to understand."
)

// Default latest OS versions named in the prompts.
const (
	DefaultIOSVersion     = "17-18"
	DefaultAndroidVersion = "13-15"
)

// OSVersions are the latest OS version ranges to recommend devices for.
type OSVersions struct {
	IOS     string
	Android string
}

func (v OSVersions) withDefaults() OSVersions {
	if v.IOS == "" {
		v.IOS = DefaultIOSVersion
	}
	if v.Android == "" {
		v.Android = DefaultAndroidVersion
	}
	return v
}

// SystemPrompt returns the QA-lead instructions. With empty knowledge the
// prompt refers to data given earlier instead of embedding it.
func SystemPrompt(knowledge string, versions OSVersions) (string, error) {
	return render("system.tmpl", struct {
		Knowledge string
		OS        OSVersions
	}{knowledge, versions.withDefaults()})
}

// TaskPrompt returns the testing-strategy request with the operating system
// shares from a filled in.
func TaskPrompt(a analytics.Analysis, versions OSVersions) (string, error) {
	return render("task.tmpl", struct {
		Windows, MacOS, IOS, Android string
		OS                           OSVersions
	}{
		Windows: formatPercent(a.OSPercentage(analytics.Desktop, analytics.OSWindowsOther)),
		MacOS:   formatPercent(a.OSPercentage(analytics.Desktop, analytics.OSMacOS)),
		IOS:     formatPercent(a.OSPercentage(analytics.Mobile, analytics.OSiOS)),
		Android: formatPercent(a.OSPercentage(analytics.Mobile, analytics.OSAndroid)),
		OS:      versions.withDefaults(),
	})
}

// SharesSummary renders the in-category shares and tiers of a as knowledge
// text. It returns "" when a has no shares.
func SharesSummary(a analytics.Analysis) (string, error) {
	if len(a.Categories) == 0 && len(a.OS) == 0 && len(a.Browsers) == 0 {
		return "", nil
	}

	out, err := render("shares.tmpl", a)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// EvaluationPrompt wraps a matrix for the judge.
func EvaluationPrompt(matrix string) string {
	return "Evaluate the following QA matrix for accuracy, clarity, and adherence to the instructions:\n\n" + matrix
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("qaplan: render %s: %w", name, err)
	}
	return buf.String(), nil
}

// formatPercent prints a one-decimal percentage without trailing zeros.
func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
