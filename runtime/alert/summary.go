package alert

import (
	"strings"
	"unicode/utf8"
)

// Markers that open summary-worthy sections of an analysis document. The
// analysis prompt instructs the agent to emit these headings.
var summaryMarkers = []string{
	"EXECUTIVE SUMMARY",
	"ROOT CAUSE",
	"IMMEDIATE ACTIONS",
	"CRITICAL FINDINGS",
}

const (
	previewLimit = 1500
	inlineLimit  = 2500
	inlineCut    = 2400
)

// ExecutiveSummary extracts the leading summary sections of an analysis for
// chat previews. It keeps up to three marker-opened sections bounded to
// roughly 1500 characters, and falls back to the document head when no
// markers are present.
func ExecutiveSummary(analysis string) string {
	if analysis == "" {
		return ""
	}
	var (
		kept      []string
		keptLen   int
		inSection bool
		sections  int
	)
	add := func(line string) {
		if len(kept) > 0 {
			keptLen++
		}
		keptLen += utf8.RuneCountInString(line)
		kept = append(kept, line)
	}
	for _, line := range strings.Split(analysis, "\n") {
		upper := strings.ToUpper(line)
		opens := false
		for _, m := range summaryMarkers {
			if strings.Contains(upper, m) {
				opens = true
				break
			}
		}
		if opens {
			inSection = true
			sections++
			add(line)
			if sections >= 3 {
				break
			}
			continue
		}
		if !inSection {
			continue
		}
		// Stop at the next major section once past the first one.
		if strings.HasPrefix(line, "##") && sections > 1 {
			break
		}
		if keptLen > previewLimit {
			add("\n_[Summary continues...]_")
			break
		}
		add(line)
	}
	if len(kept) == 0 {
		return headRunes(analysis, previewLimit)
	}
	return strings.Join(kept, "\n")
}

// SummarizeAnalysis builds the concise inline summary stored with the alert
// and rendered in card notifications: the executive summary, the root cause
// section, and the critical findings table when present, bounded to roughly
// 2500 characters with truncation at a paragraph boundary.
func SummarizeAnalysis(analysis string) string {
	if analysis == "" {
		return "No analysis available"
	}
	var parts []string

	if start := strings.Index(analysis, "EXECUTIVE SUMMARY"); start >= 0 {
		// Search past the heading itself for the section end.
		end := indexFrom(analysis, "\n##", start+20)
		if end == -1 {
			end = indexFrom(analysis, "---", start+20)
		}
		if end > start {
			parts = append(parts, headRunes(strings.TrimSpace(analysis[start:end]), 1000))
		}
	}

	rootStart := strings.Index(analysis, "ROOT CAUSE")
	if i := strings.Index(analysis, "CRITICAL FINDING"); i > rootStart {
		rootStart = i
	}
	if rootStart > 0 {
		end := indexFrom(analysis, "## ", rootStart+20)
		if end == -1 {
			end = indexFrom(analysis, "\n\n---", rootStart+20)
		}
		if end > rootStart {
			parts = append(parts, "\n\n"+headRunes(strings.TrimSpace(analysis[rootStart:end]), 1200))
		}
	}

	if start := strings.Index(analysis, "CRITICAL FINDINGS"); start >= 0 {
		end := indexFrom(analysis, "\n\n##", start)
		if end == -1 {
			end = indexFrom(analysis, "\n\n---\n\n##", start)
		}
		if end == -1 {
			end = findingsTableEnd(analysis, start)
		}
		if end > start {
			parts = append(parts, "\n\n"+strings.TrimSpace(analysis[start:end]))
		}
	}

	if len(parts) == 0 {
		return headRunes(analysis, previewLimit) + "\n\n_[Analysis continues...]_"
	}

	summary := strings.Join(parts, "")
	if utf8.RuneCountInString(summary) <= inlineLimit {
		return summary
	}
	head := headRunes(summary, inlineCut)
	if cut := strings.LastIndex(head, "\n\n"); cut >= 0 && utf8.RuneCountInString(head[:cut]) > previewLimit {
		return head[:cut] + "\n\n_[Analysis continues... View full report for complete details]_"
	}
	return head + "\n\n_[Analysis continues...]_"
}

// findingsTableEnd locates the end of a markdown table following a critical
// findings heading when no section break terminates it: the run of lines
// containing a pipe, starting at the first pipe past the heading.
func findingsTableEnd(analysis string, start int) int {
	tableStart := indexFrom(analysis, "|", start)
	if tableStart <= 0 {
		return -1
	}
	var length, rows int
	for _, line := range strings.Split(analysis[tableStart:], "\n") {
		if strings.Contains(line, "|") {
			if rows > 0 {
				length++
			}
			length += len(line)
			rows++
		} else if rows > 0 {
			break
		}
	}
	if rows == 0 {
		return -1
	}
	return tableStart + length
}

// indexFrom is strings.Index with the search starting at byte offset from.
func indexFrom(s, sub string, from int) int {
	if from < 0 {
		from = 0
	}
	if from >= len(s) {
		return -1
	}
	if i := strings.Index(s[from:], sub); i >= 0 {
		return from + i
	}
	return -1
}

// headRunes bounds s to at most n runes.
func headRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
