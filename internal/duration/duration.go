// Package duration converts human-friendly time spans like "2h 30m"
// or "1.5h" into the ISO-8601 duration encoding the OpenProject API
// expects for estimated time and logged hours.
package duration

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Tokens may be compact or spaced: "2h30m", "2h 30m", "1.5h".
var (
	hoursRE   = regexp.MustCompile(`(\d+(?:\.\d+)?)h`)
	minutesRE = regexp.MustCompile(`(\d+(?:\.\d+)?)m`)
)

// ParseError reports a duration string that cannot be converted.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid duration %q: %s", e.Input, e.Reason)
}

// Parse converts a duration string into ISO-8601 form ("PT2H30M").
//
// Rules:
//   - hour (h) and minute (m) tokens in any combination; repeated
//     tokens of the same unit accumulate
//   - decimals allowed; the total is rounded half-up to a whole minute
//   - negatives, blank input, token-free input, and totals that round
//     to zero are errors
//
// Components that are zero are omitted: "2h" -> "PT2H", "30m" -> "PT30M".
func Parse(input string) (string, error) {
	normalized := strings.Join(strings.Fields(strings.ToLower(input)), " ")
	if normalized == "" {
		return "", &ParseError{Input: input, Reason: "duration is required (e.g. '2h', '30m', '2h 30m')"}
	}
	if strings.Contains(normalized, "-") {
		return "", &ParseError{Input: input, Reason: "negative durations are not allowed"}
	}

	hours, hourTokens, err := sumMatches(hoursRE, normalized)
	if err != nil {
		return "", &ParseError{Input: input, Reason: err.Error()}
	}
	minutes, minuteTokens, err := sumMatches(minutesRE, normalized)
	if err != nil {
		return "", &ParseError{Input: input, Reason: err.Error()}
	}
	if hourTokens+minuteTokens == 0 {
		return "", &ParseError{Input: input, Reason: "no hour/minute tokens found (use hours 'h' and minutes 'm')"}
	}

	// Round half-up to the nearest whole minute.
	total := int(math.Floor(hours*60 + minutes + 0.5))
	if total <= 0 {
		return "", &ParseError{Input: input, Reason: "duration must be greater than zero"}
	}

	h := total / 60
	m := total % 60

	var b strings.Builder
	b.WriteString("PT")
	if h > 0 {
		fmt.Fprintf(&b, "%dH", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dM", m)
	}
	return b.String(), nil
}

func sumMatches(re *regexp.Regexp, text string) (total float64, count int, err error) {
	for _, match := range re.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			return 0, 0, fmt.Errorf("unparseable number %q", match[1])
		}
		total += v
		count++
	}
	return total, count, nil
}
