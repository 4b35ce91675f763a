package engine

import (
	"context"
	"math/rand/v2"

	"github.com/fyrsmithlabs/signalforge/internal/candidate"
	"github.com/fyrsmithlabs/signalforge/internal/ledger"
	"github.com/fyrsmithlabs/signalforge/internal/logging"
	"github.com/fyrsmithlabs/signalforge/internal/policy"
	"go.uber.org/zap"
)

type weighted struct {
	item   candidate.Item
	weight float64
}

// weigh computes each candidate's effective weight and drops the ones that
// can never be selected. Input order is preserved.
func (e *Engine) weigh(ctx context.Context, p *policy.Policy, items []candidate.Item, recent ledger.LabelCounts) []weighted {
	trace := e.logger.Core().Enabled(logging.TraceLevel)
	out := make([]weighted, 0, len(items))
	for _, it := range items {
		score := it.Score
		if !(score > minScore) {
			score = minScore
		}
		raw := p.FormatWeight(it.Format) * p.TopicWeight(it.Topic) * score
		var w float64
		if raw > 0 {
			w = e.decay(raw, recent.Formats[it.Format], recent.Topics[it.Topic])
		}
		if trace {
			e.logger.Log(logging.TraceLevel, "candidate weighed", append(logging.ContextFields(ctx),
				zap.String("candidate_id", it.ID),
				zap.String("format", it.Format),
				zap.String("topic", it.Topic),
				zap.Float64("score", score),
				zap.Float64("raw_weight", raw),
				zap.Float64("weight", w),
			)...)
		}
		if !(w > 0) {
			continue
		}
		out = append(out, weighted{item: it, weight: w})
	}
	return out
}

// pick fills up to slots positions by weighted draws without replacement.
// Slots after the first prefer the first slot's topic; every slot prefers
// the requested link state. Preferences narrow the draw only when they
// leave something to draw from.
func pick(rng *rand.Rand, from []weighted, slots int, preferLink bool) []weighted {
	remaining := append([]weighted(nil), from...)
	chosen := make([]weighted, 0, slots)

	for len(chosen) < slots && len(remaining) > 0 {
		group := remaining
		if len(chosen) > 0 {
			topic := chosen[0].item.Topic
			group = narrow(group, func(w weighted) bool { return w.item.Topic == topic })
		}
		group = narrow(group, func(w weighted) bool { return w.item.HasLink == preferLink })

		idx := draw(rng, group)
		c := group[idx]
		chosen = append(chosen, c)
		remaining = without(remaining, c.item.ID)
	}
	return chosen
}

func narrow(ws []weighted, keep func(weighted) bool) []weighted {
	var out []weighted
	for _, w := range ws {
		if keep(w) {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		return ws
	}
	return out
}

func without(ws []weighted, id string) []weighted {
	out := make([]weighted, 0, len(ws))
	for _, w := range ws {
		if w.item.ID != id {
			out = append(out, w)
		}
	}
	return out
}

// draw returns an index into ws chosen with probability proportional to
// weight. All weights are positive.
func draw(rng *rand.Rand, ws []weighted) int {
	var total float64
	for _, w := range ws {
		total += w.weight
	}
	x := rng.Float64() * total
	var acc float64
	for i, w := range ws {
		acc += w.weight
		if x < acc {
			return i
		}
	}
	return len(ws) - 1
}
