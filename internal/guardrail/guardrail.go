// Package guardrail decides whether a new candidate may enter the pool at
// all: length limits, blocked terms, leaked secrets, the account's link
// policy and near-duplicates of existing or source content.
package guardrail

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/signalforge/internal/candidate"
	"github.com/fyrsmithlabs/signalforge/internal/policy"
)

// Reason names the check a candidate failed.
type Reason string

const (
	ReasonEmpty            Reason = "empty"
	ReasonLength           Reason = "length"
	ReasonThreadLength     Reason = "thread_length"
	ReasonSafety           Reason = "safety"
	ReasonSecret           Reason = "secret"
	ReasonLinkPolicy       Reason = "link_policy"
	ReasonSourceSimilarity Reason = "source_similarity"
	ReasonSimilarity       Reason = "similarity"
)

// DefaultBlocklist is always blocked; Config.Blocklist adds to it.
var DefaultBlocklist = []string{
	"kill yourself",
	"go die",
	"subhuman",
	"vermin",
	"exterminate",
	"genocide",
}

// Config holds the intake limits.
type Config struct {
	MaxLength                 int      // standalone posts, in characters
	MaxThreadPostLength       int      // thread-eligible posts
	Blocklist                 []string // added to DefaultBlocklist
	SimilarityThreshold       float64  // against the account's other candidates
	SourceSimilarityThreshold float64  // against the text a draft was written from
	ScanSecrets               bool
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxLength:                 240,
		MaxThreadPostLength:       260,
		SimilarityThreshold:       0.85,
		SourceSimilarityThreshold: 0.8,
		ScanSecrets:               true,
	}
}

// Validate reports every invalid limit.
func (c Config) Validate() error {
	var errs []error
	if c.MaxLength < 1 {
		errs = append(errs, fmt.Errorf("max_length must be >= 1, got %d", c.MaxLength))
	}
	if c.MaxThreadPostLength < 1 {
		errs = append(errs, fmt.Errorf("max_thread_post_length must be >= 1, got %d", c.MaxThreadPostLength))
	}
	if !(c.SimilarityThreshold > 0 && c.SimilarityThreshold <= 1) {
		errs = append(errs, fmt.Errorf("similarity_threshold must be in (0,1], got %v", c.SimilarityThreshold))
	}
	if !(c.SourceSimilarityThreshold > 0 && c.SourceSimilarityThreshold <= 1) {
		errs = append(errs, fmt.Errorf("source_similarity_threshold must be in (0,1], got %v", c.SourceSimilarityThreshold))
	}
	return errors.Join(errs...)
}

// Rejection is returned for a candidate that failed a check.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("candidate rejected: %s: %s", r.Reason, r.Detail)
}

// AsRejection unwraps err into a *Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Draft is one incoming candidate with what it is checked against.
type Draft struct {
	Item       candidate.Item
	Settings   policy.Settings
	SourceText string   // text the draft was derived from, if any
	Existing   []string // content of the account's other candidates
}

// Checker runs the intake checks. It is safe for concurrent use.
type Checker struct {
	cfg     Config
	blocked []*regexp.Regexp
	terms   []string
	secrets SecretScanner
}

// Option configures a Checker.
type Option func(*Checker)

// WithSecretScanner replaces the secret scanner.
func WithSecretScanner(s SecretScanner) Option {
	return func(c *Checker) { c.secrets = s }
}

// New builds a Checker. Secret scanning uses gitleaks unless disabled or
// replaced.
func New(cfg Config, opts ...Option) (*Checker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid guardrail config: %w", err)
	}
	c := &Checker{cfg: cfg}
	for _, term := range blocklist(cfg.Blocklist) {
		c.terms = append(c.terms, term)
		c.blocked = append(c.blocked, regexp.MustCompile(`\b`+regexp.QuoteMeta(term)+`\b`))
	}
	if cfg.ScanSecrets {
		c.secrets = GitleaksScanner{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Check returns nil when d may enter the pool and a *Rejection naming the
// first failed check otherwise. Any other error means the draft could not
// be checked. Checks run cheapest first.
func (c *Checker) Check(d Draft) error {
	content := d.Item.Content
	if strings.TrimSpace(content) == "" {
		return &Rejection{Reason: ReasonEmpty, Detail: "content is blank"}
	}

	limit, reason := c.cfg.MaxLength, ReasonLength
	if d.Item.ThreadEligible {
		limit, reason = c.cfg.MaxThreadPostLength, ReasonThreadLength
	}
	if n := utf8.RuneCountInString(content); n > limit {
		return &Rejection{Reason: reason, Detail: fmt.Sprintf("%d characters exceeds %d", n, limit)}
	}

	normalized := normalize(content)
	for i, re := range c.blocked {
		if re.MatchString(normalized) {
			return &Rejection{Reason: ReasonSafety, Detail: fmt.Sprintf("contains blocked term %q", c.terms[i])}
		}
	}

	if candidate.ContainsLink(content) && (!d.Settings.AllowLinks || d.Settings.LinkPostRatio <= 0) {
		return &Rejection{Reason: ReasonLinkPolicy, Detail: "account does not post links"}
	}

	if c.secrets != nil {
		rules, err := c.secrets.Scan(content)
		if err != nil {
			return fmt.Errorf("scan for secrets: %w", err)
		}
		if len(rules) > 0 {
			return &Rejection{Reason: ReasonSecret, Detail: "matches secret rule " + strings.Join(rules, ", ")}
		}
	}

	if d.SourceText != "" {
		if r := Overlap(content, d.SourceText); r >= c.cfg.SourceSimilarityThreshold {
			return &Rejection{Reason: ReasonSourceSimilarity, Detail: fmt.Sprintf("overlap %.2f with source text", r)}
		}
	}
	for _, other := range d.Existing {
		if r := Overlap(content, other); r >= c.cfg.SimilarityThreshold {
			return &Rejection{Reason: ReasonSimilarity, Detail: fmt.Sprintf("overlap %.2f with an existing candidate", r)}
		}
	}
	return nil
}

// blocklist merges extra terms into DefaultBlocklist, normalized and
// without duplicates, in a stable order.
func blocklist(extra []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, term := range append(append([]string(nil), DefaultBlocklist...), extra...) {
		term = normalize(term)
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		out = append(out, term)
	}
	return out
}
