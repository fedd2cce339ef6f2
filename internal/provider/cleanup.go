package provider

import (
	"regexp"
	"strings"
)

// narrativeOpeners match lines where second-person prose plausibly begins.
// Everything before the first match is treated as reasoning preamble.
var narrativeOpeners = []*regexp.Regexp{
	regexp.MustCompile(`^You\b`),
	regexp.MustCompile(`^Your\b`),
	regexp.MustCompile(`^As you\b`),
	regexp.MustCompile(`^Before you\b`),
	regexp.MustCompile(`^Around you\b`),
	regexp.MustCompile(`^The \w`),
	regexp.MustCompile(`^A \w`),
	regexp.MustCompile(`^An \w`),
	regexp.MustCompile(`^"`),
}

// metaCommentary matches lines of leftover first-person model analysis that
// sometimes survives inside an otherwise clean narrative.
var metaCommentary = []*regexp.Regexp{
	regexp.MustCompile(`^Okay, so\b`),
	regexp.MustCompile(`^Okay, I\b`),
	regexp.MustCompile(`^Alright, I\b`),
	regexp.MustCompile(`^I need to\b`),
	regexp.MustCompile(`^I should\b`),
	regexp.MustCompile(`^I'll\b`),
	regexp.MustCompile(`^Let me\b`),
	regexp.MustCompile(`^The player says\b`),
	regexp.MustCompile(`^The user wants\b`),
	regexp.MustCompile(`^As an AI\b`),
}

// ExtractNarrative strips model reasoning from a completion: it discards
// everything before the first line that looks like the start of second-person
// narration, then removes any remaining lines that open with first-person
// analysis phrasing.
//
// This is a best-effort heuristic against known-bad output shapes, not a
// guarantee. Text with no recognizable narrative opener is returned trimmed
// but otherwise untouched.
func ExtractNarrative(raw string) string {
	lines := strings.Split(raw, "\n")

	start := -1
	for i, line := range lines {
		if matchesAny(strings.TrimSpace(line), narrativeOpeners) {
			start = i
			break
		}
	}
	if start >= 0 {
		lines = lines[start:]
	}

	kept := lines[:0]
	for _, line := range lines {
		if matchesAny(strings.TrimSpace(line), metaCommentary) {
			continue
		}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func matchesAny(line string, patterns []*regexp.Regexp) bool {
	if line == "" {
		return false
	}
	for _, p := range patterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}
