package story

import (
	"regexp"
	"strconv"
	"strings"
)

// Choice is one numbered player option parsed from a narrator response.
type Choice struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

var choiceLine = regexp.MustCompile(`^(\d)\)\s+(.+)$`)

// ParseChoices extracts the trailing numbered choice list from narrator text.
// Lines must match the "{n}) {text}" contract; anything else is prose.
func ParseChoices(content string) []Choice {
	var choices []Choice
	for _, line := range strings.Split(content, "\n") {
		m := choiceLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		choices = append(choices, Choice{Number: n, Text: strings.TrimSpace(m[2])})
	}
	return choices
}
