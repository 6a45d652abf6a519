// Package ratelimit is the Rate-Limit Detector (C2): it classifies an
// agent invocation's stdout/stderr/exit code as rate-limited and, when
// possible, extracts how long to wait before retrying. Patterns are
// grounded on the upstream runner's core/errors.go error-string matching
// idiom, generalized from a single-agent regex to a per-family pattern
// table since ralphd drives multiple agent plugins.
package ratelimit

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Output is what the detector inspects from one agent invocation.
type Output struct {
	AgentID  string
	Stdout   string
	Stderr   string
	ExitCode int
}

// Result is the detector's verdict.
type Result struct {
	IsRateLimit bool
	Message     string
	RetryAfter  time.Duration // zero if not parseable; caller falls back to backoff
}

type pattern struct {
	phrase *regexp.Regexp
}

// patterns is keyed by agent family; "" is the generic fallback applied
// when no family-specific table matches.
var patterns = map[string][]pattern{
	"claude": {
		{phrase: regexp.MustCompile(`(?i)rate.?limit`)},
		{phrase: regexp.MustCompile(`(?i)usage limit reached`)},
		{phrase: regexp.MustCompile(`(?i)try again in (\d+)\s*(second|minute|hour)s?`)},
	},
	"codex": {
		{phrase: regexp.MustCompile(`(?i)rate.?limit`)},
		{phrase: regexp.MustCompile(`(?i)429`)},
	},
	"opencode": {
		{phrase: regexp.MustCompile(`(?i)rate.?limit`)},
		{phrase: regexp.MustCompile(`(?i)quota exceeded`)},
	},
	"cursor": {
		{phrase: regexp.MustCompile(`(?i)rate.?limit`)},
	},
	"": {
		{phrase: regexp.MustCompile(`(?i)rate.?limit`)},
		{phrase: regexp.MustCompile(`(?i)too many requests`)},
		{phrase: regexp.MustCompile(`(?i)quota`)},
	},
}

var retryAfterRe = regexp.MustCompile(`(?i)(?:try again|retry) in\s+(\d+)\s*(second|minute|hour)s?`)

// Detector classifies agent output as rate-limited or not.
type Detector struct{}

// NewDetector returns a ready-to-use Detector. It carries no state: the
// pattern table is immutable package data.
func NewDetector() *Detector { return &Detector{} }

// Detect inspects out and returns the detector's verdict. retryAfter, when
// parseable, must be preferred over exponential backoff by the caller.
func (d *Detector) Detect(out Output) Result {
	combined := out.Stdout + "\n" + out.Stderr
	table, ok := patterns[out.AgentID]
	if !ok {
		table = patterns[""]
	}
	// Always also check the generic fallback table so an agent-specific
	// table need not repeat universal phrases.
	for _, p := range append(append([]pattern{}, table...), patterns[""]...) {
		if p.phrase.MatchString(combined) {
			res := Result{IsRateLimit: true, Message: strings.TrimSpace(firstMatchingLine(combined, p.phrase))}
			if d := parseRetryAfter(combined); d > 0 {
				res.RetryAfter = d
			}
			return res
		}
	}
	return Result{}
}

func firstMatchingLine(text string, re *regexp.Regexp) string {
	for _, line := range strings.Split(text, "\n") {
		if re.MatchString(line) {
			return line
		}
	}
	return text
}

// parseRetryAfter scans text for phrases like "try again in 42 seconds"
// or "retry in 2 minutes" and converts them to a Duration.
func parseRetryAfter(text string) time.Duration {
	m := retryAfterRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	switch strings.ToLower(m[2]) {
	case "second":
		return time.Duration(n) * time.Second
	case "minute":
		return time.Duration(n) * time.Minute
	case "hour":
		return time.Duration(n) * time.Hour
	default:
		return 0
	}
}
