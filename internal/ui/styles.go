// Package ui renders the import summary for terminals. Colors adapt to
// light and dark backgrounds and drop out entirely when color is off.
package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nagimport/ocimp/internal/importer"
	"github.com/nagimport/ocimp/internal/objects"
)

var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

var (
	PassStyle     = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle     = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle     = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle    = lipgloss.NewStyle().Foreground(ColorMuted)
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"

	TreeLast = "└─ "
)

func RenderPass(s string) string  { return PassStyle.Render(s) }
func RenderWarn(s string) string  { return WarnStyle.Render(s) }
func RenderFail(s string) string  { return FailStyle.Render(s) }
func RenderMuted(s string) string { return MutedStyle.Render(s) }

// RenderCategory renders a section header in uppercase.
func RenderCategory(s string) string {
	return CategoryStyle.Render(strings.ToUpper(s))
}

// SummaryLine is the one line every successful import prints.
func SummaryLine(statements int64) string {
	return fmt.Sprintf("Import finalized. Total queries: %d", statements)
}

// RenderResult renders a per-type breakdown of one import, most written
// types first.
func RenderResult(res *importer.Result) string {
	var b strings.Builder

	icon, state := RenderPass(IconPass), "ok"
	switch {
	case res.NotNewer:
		icon, state = RenderMuted(IconSkip), "unchanged"
	case !res.OK():
		icon, state = RenderWarn(IconWarn), fmt.Sprintf("%d record errors", res.Errors)
	}
	fmt.Fprintf(&b, "%s %s %s\n", icon, RenderCategory(string(res.Mode)), state)
	if res.NotNewer {
		return b.String()
	}

	types := make([]string, 0, len(res.PerType))
	for t := range res.PerType {
		types = append(types, t.String())
	}
	sort.Slice(types, func(i, j int) bool {
		ni := res.PerType[objects.Type(types[i])]
		nj := res.PerType[objects.Type(types[j])]
		if ni != nj {
			return ni > nj
		}
		return types[i] < types[j]
	})
	for _, t := range types {
		fmt.Fprintf(&b, "  %-22s %d\n", t, res.PerType[objects.Type(t)])
	}

	details := []string{
		fmt.Sprintf("written %d", res.Written),
		fmt.Sprintf("queries %d", res.Statements),
	}
	if res.Skipped > 0 {
		details = append(details, fmt.Sprintf("skipped %d", res.Skipped))
	}
	if res.Purged > 0 {
		details = append(details, fmt.Sprintf("purged %d", res.Purged))
	}
	if res.Errors > 0 {
		details = append(details, RenderFail(fmt.Sprintf("errors %d", res.Errors)))
	}
	details = append(details, res.Duration.Round(time.Millisecond).String())
	fmt.Fprintf(&b, "  %s%s\n", RenderMuted(TreeLast), strings.Join(details, RenderMuted(" · ")))
	return b.String()
}
