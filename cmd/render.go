package main

import (
	"fmt"
	"sort"
	"strings"

	"consensus-core/core"
	llmclient "consensus-core/llm-client"
	"github.com/charmbracelet/lipgloss"
)

var (
	headStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA"))
	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

var labelColors = map[core.ConfidenceLabel]lipgloss.Color{
	core.LabelUnanimous: "#3FB950",
	core.LabelHigh:      "#56D364",
	core.LabelModerate:  "#D29922",
	core.LabelLow:       "#FF6B6B",
}

// renderResult formats a pipeline result for the terminal.
func renderResult(res *core.PipelineResult) string {
	c := res.Consensus

	label := lipgloss.NewStyle().Bold(true).Foreground(labelColors[c.ConfidenceLabel]).
		Render(fmt.Sprintf("%s (%d%%)", strings.ToUpper(string(c.ConfidenceLabel)), c.ConfidenceScore))

	answer := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		headStyle.Render("Consensus answer"),
		"",
		c.FinalAnswer,
	))

	meta := []string{
		fmt.Sprintf("confidence  %s", label),
		fmt.Sprintf("winner      %s", c.Winner),
		fmt.Sprintf("mean RQS    %d", c.MeanRQS),
		fmt.Sprintf("refined     %t", c.RefinementApplied),
		dimStyle.Render(fmt.Sprintf("%d tokens, $%.4f, %dms", c.TotalTokens, c.TotalCostUSD, c.ProcessingTimeMs)),
	}
	if c.IsAmbiguous {
		meta = append(meta, warnStyle.Render("the question was judged ambiguous"))
	}
	if c.JudgeFallback {
		meta = append(meta, warnStyle.Render("judge unavailable, highest RQS answer selected"))
	}

	blocks := []string{answer, lipgloss.JoinVertical(lipgloss.Left, meta...)}
	if c.AdjudicatorReasoning != "" {
		blocks = append(blocks, headStyle.Render("Reasoning")+"\n"+c.AdjudicatorReasoning)
	}
	if c.DissentNote != "" && !strings.EqualFold(strings.TrimSpace(c.DissentNote), "none") {
		blocks = append(blocks, headStyle.Render("Dissent")+"\n"+c.DissentNote)
	}
	blocks = append(blocks, renderProviders(res), renderMatrix(res.InitialResponses, c.AgreementMatrix))

	return lipgloss.JoinVertical(lipgloss.Left, blocks...) + "\n"
}

func renderProviders(res *core.PipelineResult) string {
	rqs := make(map[llmclient.Provider]int, len(res.Audits))
	for _, a := range res.Audits {
		rqs[a.Provider] = a.RQS
	}

	lines := []string{headStyle.Render("Providers")}
	for _, r := range res.InitialResponses {
		line := fmt.Sprintf("%-11s %-8s %6dms", r.Provider, r.Status, r.LatencyMs)
		if score, ok := rqs[r.Provider]; ok {
			line += fmt.Sprintf("  RQS %3d", score)
		}
		if r.Error != "" {
			line += "  " + warnStyle.Render(r.Error)
		}
		lines = append(lines, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderMatrix(responses []llmclient.Response, m core.AgreementMatrix) string {
	if len(m) == 0 {
		return ""
	}
	reviewers := make([]llmclient.Provider, 0, len(m))
	for p := range m {
		reviewers = append(reviewers, p)
	}
	sort.Slice(reviewers, func(i, j int) bool { return reviewers[i] < reviewers[j] })

	lines := []string{headStyle.Render("Agreement")}
	for _, reviewer := range reviewers {
		var cells []string
		for _, r := range responses {
			if vote, ok := m[reviewer][r.Provider]; ok {
				cells = append(cells, fmt.Sprintf("%s:%s", r.Provider, vote))
			}
		}
		lines = append(lines, fmt.Sprintf("%-11s %s", reviewer, dimStyle.Render(strings.Join(cells, "  "))))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
