package policy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// HourSet is the set of local hours-of-day in which posting is allowed.
type HourSet [24]bool

// Contains reports whether hour h is in the set.
func (s HourSet) Contains(h int) bool {
	return h >= 0 && h < 24 && s[h]
}

// Hours returns the members in ascending order.
func (s HourSet) Hours() []int {
	out := make([]int, 0, 24)
	for h, ok := range s {
		if ok {
			out = append(out, h)
		}
	}
	return out
}

// CountFrom returns how many members are >= h.
func (s HourSet) CountFrom(h int) int {
	n := 0
	for i := max(h, 0); i < 24; i++ {
		if s[i] {
			n++
		}
	}
	return n
}

// Policy is a validated posting policy. Only Validate produces one that
// reports Valid.
type Policy struct {
	Timezone      string
	Location      *time.Location
	DailyPostMin  int
	DailyPostMax  int
	AllowedHours  HourSet
	MinSpacing    time.Duration
	AllowLinks    bool
	LinkPostRatio float64
	ThreadRatio   float64
	MaxThreadLen  int
	FormatWeights map[string]float64
	TopicWeights  map[string]float64

	valid bool
}

// Valid reports whether p came out of Validate.
func (p *Policy) Valid() bool {
	return p != nil && p.valid
}

// FormatWeight returns the weight for a format label; unknown labels weigh 1.
func (p *Policy) FormatWeight(label string) float64 {
	return lookupWeight(p.FormatWeights, label)
}

// TopicWeight returns the weight for a topic label; unknown labels weigh 1.
func (p *Policy) TopicWeight(label string) float64 {
	return lookupWeight(p.TopicWeights, label)
}

func lookupWeight(m map[string]float64, label string) float64 {
	if w, ok := m[label]; ok {
		return w
	}
	return 1
}

// Settings converts the policy back into its normalized wire form.
func (p *Policy) Settings() Settings {
	return Settings{
		Timezone:        p.Timezone,
		DailyPostMin:    p.DailyPostMin,
		DailyPostMax:    p.DailyPostMax,
		AllowedHours:    p.AllowedHours.Hours(),
		MinSpacingHours: p.MinSpacing.Hours(),
		AllowLinks:      p.AllowLinks,
		LinkPostRatio:   p.LinkPostRatio,
		ThreadRatio:     p.ThreadRatio,
		MaxThreadLen:    p.MaxThreadLen,
		FormatWeights:   copyWeights(p.FormatWeights),
		TopicWeights:    copyWeights(p.TopicWeights),
	}
}

// Validate checks every rule on s and returns the normalized Policy, or a
// *ValidationError listing all violations. It never returns a partial policy.
func Validate(s Settings) (*Policy, error) {
	var v []Violation
	add := func(field, format string, args ...any) {
		v = append(v, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if s.DailyPostMin < 0 {
		add("daily_post_min", "must be >= 0, got %d", s.DailyPostMin)
	}
	if s.DailyPostMax < 0 {
		add("daily_post_max", "must be >= 0, got %d", s.DailyPostMax)
	}
	if s.DailyPostMin > s.DailyPostMax {
		add("daily_post_min", "must be <= daily_post_max (%d), got %d", s.DailyPostMax, s.DailyPostMin)
		add("daily_post_max", "must be >= daily_post_min (%d), got %d", s.DailyPostMin, s.DailyPostMax)
	}

	var hours HourSet
	if len(s.AllowedHours) == 0 {
		add("allowed_hours", "must not be empty")
	}
	for _, h := range s.AllowedHours {
		if h < 0 || h > 23 {
			add("allowed_hours", "hour %d out of range [0,23]", h)
			continue
		}
		hours[h] = true
	}

	if !finite(s.MinSpacingHours) || s.MinSpacingHours <= 0 {
		add("min_spacing_hours", "must be > 0, got %v", s.MinSpacingHours)
	}

	linkRatio := s.LinkPostRatio
	if !s.AllowLinks {
		linkRatio = 0
	} else if !inUnit(linkRatio) {
		add("link_post_ratio", "must be within [0,1], got %v", s.LinkPostRatio)
	}
	if !inUnit(s.ThreadRatio) {
		add("thread_ratio", "must be within [0,1], got %v", s.ThreadRatio)
	}

	if s.MaxThreadLen < 1 {
		add("max_thread_len", "must be >= 1, got %d", s.MaxThreadLen)
	}

	checkWeights(s.FormatWeights, "format_weights", add)
	checkWeights(s.TopicWeights, "topic_weights", add)

	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		add("timezone", "unknown time zone %q", s.Timezone)
	}

	if len(v) > 0 {
		return nil, &ValidationError{Violations: v}
	}

	return &Policy{
		Timezone:      tz,
		Location:      loc,
		DailyPostMin:  s.DailyPostMin,
		DailyPostMax:  s.DailyPostMax,
		AllowedHours:  hours,
		MinSpacing:    spacingDuration(s.MinSpacingHours),
		AllowLinks:    s.AllowLinks,
		LinkPostRatio: linkRatio,
		ThreadRatio:   s.ThreadRatio,
		MaxThreadLen:  s.MaxThreadLen,
		FormatWeights: copyWeights(s.FormatWeights),
		TopicWeights:  copyWeights(s.TopicWeights),
		valid:         true,
	}, nil
}

// AsValidationError unwraps err into a *ValidationError if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

func checkWeights(m map[string]float64, field string, add func(string, string, ...any)) {
	labels := make([]string, 0, len(m))
	for k := range m {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	for _, label := range labels {
		w := m[label]
		if !finite(w) || w < 0 {
			add(field, "weight for %q must be a finite value >= 0, got %v", label, w)
		}
	}
}

// spacingDuration converts validated positive hours, never truncating a
// positive spacing to zero.
func spacingDuration(hours float64) time.Duration {
	d := hours * float64(time.Hour)
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return max(time.Duration(d), time.Nanosecond)
}

func copyWeights(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func inUnit(f float64) bool {
	return finite(f) && f >= 0 && f <= 1
}
