package injection

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength bounds sanitized input, counted in runes.
const DefaultMaxLength = 2000

type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Result is the stateless outcome of one detection pass.
type Result struct {
	Detected        bool     `json:"detected"`
	MatchedPatterns []string `json:"matched_patterns"`
	Classes         []Class  `json:"classes,omitempty"`
	Severity        Severity `json:"severity"`
	AdvisoryMessage string   `json:"advisory_message,omitempty"`
}

// Blocking reports whether the input must be rejected before any tool runs.
func (r Result) Blocking() bool {
	return r.Detected && r.Severity == SeverityHigh
}

var advisories = map[Severity]string{
	SeverityLow:    "Your message contains phrasing that tries to change how the assistant works. Describe the swap or balance check you want in plain words.",
	SeverityMedium: "Your message looks like an attempt to impersonate the system or override its rules. It will be handled with extra caution; please rephrase your request.",
	SeverityHigh:   "This request was blocked because it appears to move funds to an outside address. No transaction was prepared.",
}

// Detector sanitizes and classifies free text against an ordered catalogue.
// It holds no mutable state and is safe for concurrent use.
type Detector struct {
	patterns  []Pattern
	maxLength int
}

type Option func(*Detector)

func WithMaxLength(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.maxLength = n
		}
	}
}

// WithPatterns replaces the built-in catalogue.
func WithPatterns(patterns []Pattern) Option {
	return func(d *Detector) {
		d.patterns = append([]Pattern(nil), patterns...)
	}
}

func NewDetector(opts ...Option) *Detector {
	d := &Detector{patterns: DefaultCatalogue(), maxLength: DefaultMaxLength}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var defaultDetector = NewDetector()

// Sanitize applies the default detector's sanitization.
func Sanitize(text string) string {
	return defaultDetector.Sanitize(text)
}

// Detect runs the default detector.
func Detect(text string) Result {
	return defaultDetector.Detect(text)
}

func (d *Detector) MaxLength() int {
	return d.maxLength
}

func (d *Detector) Patterns() []Pattern {
	return append([]Pattern(nil), d.patterns...)
}

// Sanitize strips control characters, trims and truncates. It is total and
// idempotent.
func (d *Detector) Sanitize(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if isStrippedControl(r) {
			return -1
		}
		return r
	}, strings.ToValidUTF8(text, "\uFFFD"))
	cleaned = strings.TrimSpace(cleaned)
	if utf8.RuneCountInString(cleaned) > d.maxLength {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:d.maxLength]))
	}
	return cleaned
}

// Detect sanitizes text and evaluates it against every catalogue pattern.
func (d *Detector) Detect(text string) Result {
	sanitized := d.Sanitize(text)
	matched := make([]Pattern, 0, 2)
	for _, p := range d.patterns {
		if p.Expr.MatchString(sanitized) {
			matched = append(matched, p)
		}
	}

	severity := ScoreSeverity(matched)
	res := Result{
		Detected:        len(matched) > 0,
		MatchedPatterns: make([]string, 0, len(matched)),
		Severity:        severity,
		AdvisoryMessage: advisories[severity],
	}
	seen := map[Class]bool{}
	for _, p := range matched {
		res.MatchedPatterns = append(res.MatchedPatterns, p.ID)
		if !seen[p.Class] {
			seen[p.Class] = true
			res.Classes = append(res.Classes, p.Class)
		}
	}
	return res
}

// ScoreSeverity maps matches to a severity: any exfiltration is high, any
// role spoofing or more than two matches is medium, anything else is low.
func ScoreSeverity(matches []Pattern) Severity {
	if len(matches) == 0 {
		return SeverityNone
	}
	roleSpoof := false
	for _, p := range matches {
		if p.Class == ClassFundExfiltration {
			return SeverityHigh
		}
		if p.Class == ClassRoleSpoofing {
			roleSpoof = true
		}
	}
	if roleSpoof || len(matches) > 2 {
		return SeverityMedium
	}
	return SeverityLow
}

func isStrippedControl(r rune) bool {
	switch {
	case r <= 0x08:
		return true
	case r == 0x0B || r == 0x0C:
		return true
	case r >= 0x0E && r <= 0x1F:
		return true
	case r == 0x7F:
		return true
	}
	return false
}
