// Package policy validates raw account posting settings into a Policy the
// decision engine can trust.
package policy

// Settings is the raw posting policy as stored and as received over the wire.
type Settings struct {
	Timezone        string             `json:"timezone" yaml:"timezone" toml:"timezone"`
	DailyPostMin    int                `json:"daily_post_min" yaml:"daily_post_min" toml:"daily_post_min"`
	DailyPostMax    int                `json:"daily_post_max" yaml:"daily_post_max" toml:"daily_post_max"`
	AllowedHours    []int              `json:"allowed_hours" yaml:"allowed_hours" toml:"allowed_hours"`
	MinSpacingHours float64            `json:"min_spacing_hours" yaml:"min_spacing_hours" toml:"min_spacing_hours"`
	AllowLinks      bool               `json:"allow_links" yaml:"allow_links" toml:"allow_links"`
	LinkPostRatio   float64            `json:"link_post_ratio" yaml:"link_post_ratio" toml:"link_post_ratio"`
	ThreadRatio     float64            `json:"thread_ratio" yaml:"thread_ratio" toml:"thread_ratio"`
	MaxThreadLen    int                `json:"max_thread_len" yaml:"max_thread_len" toml:"max_thread_len"`
	FormatWeights   map[string]float64 `json:"format_weights" yaml:"format_weights" toml:"format_weights"`
	TopicWeights    map[string]float64 `json:"topic_weights" yaml:"topic_weights" toml:"topic_weights"`
}

// DefaultAllowedHours are the posting hours given to a new account.
var DefaultAllowedHours = []int{9, 11, 13, 15, 17}

// DefaultSettings returns the settings a freshly created account starts with.
func DefaultSettings() Settings {
	return Settings{
		Timezone:        "UTC",
		DailyPostMin:    1,
		DailyPostMax:    3,
		AllowedHours:    append([]int(nil), DefaultAllowedHours...),
		MinSpacingHours: 2,
		AllowLinks:      false,
		LinkPostRatio:   0,
		ThreadRatio:     0.2,
		MaxThreadLen:    5,
		FormatWeights:   map[string]float64{},
		TopicWeights:    map[string]float64{},
	}
}
