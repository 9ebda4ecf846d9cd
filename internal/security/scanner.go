// Package security scores tool-call arguments and tool-produced content
// for prompt-injection risk. The scanner never blocks anything itself;
// a score above the configured threshold makes the permission gate ask
// the user, and the finding is annotated on the event stream.
package security

import (
	"regexp"
	"sort"
	"sync"
)

// Finding is one matched pattern with its contribution to the score.
type Finding struct {
	Pattern string  `json:"pattern"`
	Weight  float64 `json:"weight"`
	Excerpt string  `json:"excerpt,omitempty"`
}

// Report is the outcome of scanning one piece of content.
type Report struct {
	// Score is the aggregate risk in [0.0, 1.0].
	Score float64 `json:"score"`

	// Findings lists every matched pattern, highest weight first.
	Findings []Finding `json:"findings,omitempty"`
}

// Flagged reports whether the score meets the given threshold.
func (r Report) Flagged(threshold float64) bool {
	return len(r.Findings) > 0 && r.Score >= threshold
}

// rule is a weighted detection pattern.
type rule struct {
	name   string
	weight float64
	re     *regexp.Regexp
}

// Default rule set. Weights are calibrated so a single strong signal
// (instruction override, credential exfiltration) crosses the usual 0.7
// threshold on its own, while weak signals must stack.
var defaultRules = []rule{
	{"instruction_override", 0.75, regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|rules|directions)`)},
	{"role_hijack", 0.7, regexp.MustCompile(`(?i)you\s+are\s+(now|no\s+longer)\s+(a|an|the|bound)`)},
	{"system_prompt_probe", 0.6, regexp.MustCompile(`(?i)(reveal|print|repeat|show)\s+(your|the)\s+(system\s+prompt|instructions|hidden\s+rules)`)},
	{"credential_exfil", 0.8, regexp.MustCompile(`(?i)\b(curl|wget|nc)\b[^\n]{0,120}\$(\{)?(AWS|OPENAI|ANTHROPIC|GITHUB|API|SECRET|TOKEN)`)},
	{"shell_exfil_pipe", 0.65, regexp.MustCompile(`(?i)\b(cat|env|printenv)\b[^\n]{0,80}\|\s*(curl|wget|nc)\b`)},
	{"remote_exec", 0.7, regexp.MustCompile(`(?i)(curl|wget)\b[^\n]{0,120}\|\s*(ba)?sh\b`)},
	{"destructive_rm", 0.55, regexp.MustCompile(`(?i)\brm\s+-[a-z]*r[a-z]*f[a-z]*\s+(/|~|\$HOME)`)},
	{"encoded_blob", 0.4, regexp.MustCompile(`[A-Za-z0-9+/=]{400,}`)},
	{"hidden_directive", 0.5, regexp.MustCompile(`(?i)<\s*(system|hidden|secret)\s*>`)},
	{"urgency_pressure", 0.25, regexp.MustCompile(`(?i)(do\s+not\s+tell|without\s+asking|before\s+the\s+user\s+(sees|notices))`)},
}

// Scanner evaluates content against the rule set. Safe for concurrent
// use; the rule set is fixed at construction.
type Scanner struct {
	mu      sync.RWMutex
	rules   []rule
	enabled bool
}

// NewScanner returns a scanner with the default rule set.
func NewScanner(enabled bool) *Scanner {
	return &Scanner{rules: defaultRules, enabled: enabled}
}

// Enabled reports whether scanning is active.
func (s *Scanner) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetEnabled toggles scanning at runtime.
func (s *Scanner) SetEnabled(v bool) {
	s.mu.Lock()
	s.enabled = v
	s.mu.Unlock()
}

// Scan scores the given content. A disabled scanner always returns a
// zero report. Scores combine as complementary probabilities so stacked
// weak signals grow the score without ever exceeding 1.0.
func (s *Scanner) Scan(content string) Report {
	s.mu.RLock()
	rules := s.rules
	enabled := s.enabled
	s.mu.RUnlock()

	if !enabled || content == "" {
		return Report{}
	}

	var report Report
	clean := 1.0
	for _, r := range rules {
		loc := r.re.FindStringIndex(content)
		if loc == nil {
			continue
		}
		clean *= 1 - r.weight
		report.Findings = append(report.Findings, Finding{
			Pattern: r.name,
			Weight:  r.weight,
			Excerpt: excerpt(content, loc[0], loc[1]),
		})
	}
	if len(report.Findings) == 0 {
		return report
	}
	report.Score = 1 - clean
	sort.SliceStable(report.Findings, func(i, j int) bool {
		return report.Findings[i].Weight > report.Findings[j].Weight
	})
	return report
}

// ScanToolCall scores a tool call's raw JSON arguments.
func (s *Scanner) ScanToolCall(arguments []byte) Report {
	return s.Scan(string(arguments))
}

const maxExcerpt = 80

func excerpt(content string, start, end int) string {
	if end-start > maxExcerpt {
		end = start + maxExcerpt
	}
	return content[start:end]
}
