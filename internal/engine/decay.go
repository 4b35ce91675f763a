package engine

// DecayFunc turns a raw selection weight into an effective one given how
// often the candidate's format and topic were used in the recency window.
type DecayFunc func(raw float64, recentFormat, recentTopic int) float64

// InverseDecay divides the raw weight by (1 + count) once for the format
// and once for the topic:
//
//	effective = raw / (1 + recentFormat) / (1 + recentTopic)
func InverseDecay(raw float64, recentFormat, recentTopic int) float64 {
	return raw / float64(1+recentFormat) / float64(1+recentTopic)
}

// NoDecay ignores recent history.
func NoDecay(raw float64, _, _ int) float64 {
	return raw
}
