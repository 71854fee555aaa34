// Package items turns the raw text lines of a profile list entry into a
// best-effort key/value item.
package items

import (
	"fmt"
	"regexp"
	"strings"

	"profilescrape-engine/internal/domain"
)

// Rule claims a line for Field when Match reports true and the field is
// still unclaimed.
type Rule struct {
	Field string
	Match func(idx int, line string) bool
}

// Classifier applies Rules in order to every line that survives the noise
// filter. Lines no rule claims go to the overflow bucket.
type Classifier struct {
	Rules          []Rule
	OverflowPrefix string
}

var (
	reSocialProof = regexp.MustCompile(`(?i)comments|reposts`)
	reDuration    = regexp.MustCompile(`(?i)present|[0-9]{4}`)
	reYear        = regexp.MustCompile(`[0-9]{4}`)
	reLocation    = regexp.MustCompile(`(?i)remote|india|area|on-site`)
	reDegree      = regexp.MustCompile(`(?i)bachelor|master|degree|diploma|cbse|jee`)
	reGrade       = regexp.MustCompile(`(?i)grade|gpa|cgpa|score`)
)

// At matches a fixed line position.
func At(pos int) func(int, string) bool {
	return func(idx int, _ string) bool { return idx == pos }
}

// Pattern matches lines after the first one against re.
func Pattern(re *regexp.Regexp) func(int, string) bool {
	return func(idx int, line string) bool { return idx > 0 && re.MatchString(line) }
}

// Any matches every line after the first one.
func Any() func(int, string) bool {
	return func(idx int, _ string) bool { return idx > 0 }
}

var Experience = Classifier{
	Rules: []Rule{
		{Field: "Position", Match: At(0)},
		{Field: "Company", Match: At(1)},
		{Field: "Duration", Match: Pattern(reDuration)},
		{Field: "Location", Match: Pattern(reLocation)},
		{Field: "Description", Match: Any()},
	},
	OverflowPrefix: "Extra_",
}

var Education = Classifier{
	Rules: []Rule{
		{Field: "School", Match: At(0)},
		{Field: "Degree", Match: Pattern(reDegree)},
		{Field: "Dates", Match: Pattern(reYear)},
		{Field: "Grades", Match: Pattern(reGrade)},
		{Field: "Description", Match: Any()},
	},
	OverflowPrefix: "Extra_",
}

// Lines splits innerText into trimmed lines and drops noise: empty lines,
// the candidate's own name and social-proof counters.
func Lines(text, candidateName string) []string {
	candidateName = strings.TrimSpace(candidateName)
	var out []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if candidateName != "" && l == candidateName {
			continue
		}
		if reSocialProof.MatchString(l) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Classify never fails; it returns nil when there are no lines.
func (c Classifier) Classify(lines []string) domain.Item {
	if len(lines) == 0 {
		return nil
	}
	item := domain.Item{}
	for idx, line := range lines {
		claimed := false
		for _, r := range c.Rules {
			if _, taken := item[r.Field]; taken {
				continue
			}
			if r.Match(idx, line) {
				item[r.Field] = line
				claimed = true
				break
			}
		}
		if !claimed {
			item[fmt.Sprintf("%s%d", c.OverflowPrefix, idx)] = line
		}
	}
	return item
}

// Parse classifies each raw block and drops blocks that yield nothing.
func (c Classifier) Parse(blocks []string, candidateName string) []domain.Item {
	out := make([]domain.Item, 0, len(blocks))
	for _, b := range blocks {
		if it := c.Classify(Lines(b, candidateName)); it != nil {
			out = append(out, it)
		}
	}
	return out
}
