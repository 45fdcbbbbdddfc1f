// Package uts implements the seven-layer trend score that ranks video
// snapshots by viral potential. Scoring is a pure function of two named
// observations plus a cascade count; no clocks are read inside the formula.
package uts

import (
	"errors"
	"math"

	"crest/internal/config"
	"crest/internal/observation"
)

// ErrInvalidObservation indicates a snapshot from which no layer can be
// computed: zero views and no follower count.
var ErrInvalidObservation = errors.New("invalid observation")

// neutralMidpoint is assigned to the velocity and stability layers when no
// second observation exists yet. It grants neither penalty nor credit.
const neutralMidpoint = 50.0

// Breakdown carries the per-layer sub-scores alongside the weighted final
// score, so consumers can explain a ranking rather than trust a bare number.
type Breakdown struct {
	ViralLift  float64 `json:"l1_viral_lift"`
	Velocity   float64 `json:"l2_velocity"`
	Retention  float64 `json:"l3_retention"`
	Cascade    float64 `json:"l4_cascade"`
	Saturation float64 `json:"l5_saturation"`
	Stability  float64 `json:"l7_stability"`
	FinalScore float64 `json:"final_score"`
}

// Scorer computes trend scores using fixed, configuration-supplied weights
// and scales. It owns no state between calls.
type Scorer struct {
	cfg config.Scoring
}

func NewScorer(cfg config.Scoring) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score blends the seven layers for one video. pointB may be nil when the
// video has not been rescanned yet; cascadeCount is floored at 1.
func (s *Scorer) Score(pointA observation.Observation, pointB *observation.Observation, cascadeCount int) (Breakdown, error) {
	if pointA.Views <= 0 && pointA.AuthorFollowers <= 0 {
		return Breakdown{}, ErrInvalidObservation
	}
	if cascadeCount < 1 {
		cascadeCount = 1
	}

	latest := pointA
	if pointB != nil {
		latest = *pointB
	}

	bd := Breakdown{
		ViralLift:  s.viralLift(latest),
		Velocity:   neutralMidpoint,
		Retention:  s.retention(latest),
		Cascade:    s.cascade(cascadeCount),
		Saturation: s.saturation(latest, cascadeCount),
		Stability:  neutralMidpoint,
	}
	if pointB != nil {
		hours := elapsedHours(pointA, *pointB)
		bd.Velocity = s.velocity(pointA, *pointB, hours)
		bd.Stability = s.stability(pointA, *pointB, hours)
	}

	weighted := s.cfg.WeightViralLift*bd.ViralLift +
		s.cfg.WeightVelocity*bd.Velocity +
		s.cfg.WeightRetention*bd.Retention +
		s.cfg.WeightCascade*bd.Cascade +
		s.cfg.WeightStability*bd.Stability
	positive := s.cfg.WeightViralLift + s.cfg.WeightVelocity + s.cfg.WeightRetention +
		s.cfg.WeightCascade + s.cfg.WeightStability
	if positive <= 0 {
		positive = 100
	}
	raw := weighted/positive - s.cfg.WeightSaturation*bd.Saturation/positive
	bd.FinalScore = clamp(raw, 0, 100)
	return bd, nil
}

// viralLift measures reach beyond the creator's own audience: views divided
// by followers, log-compressed so the configured multiple saturates the layer.
func (s *Scorer) viralLift(o observation.Observation) float64 {
	if o.Views <= 0 {
		return 0
	}
	followers := o.AuthorFollowers
	if followers < 1 {
		followers = 1
	}
	lift := float64(o.Views) / float64(followers)
	return clamp(100*math.Log1p(lift)/math.Log1p(s.cfg.LiftSaturation), 0, 100)
}

// velocity centers at the neutral midpoint for zero growth and moves up or
// down with the log-compressed views-per-hour delta.
func (s *Scorer) velocity(a, b observation.Observation, hours float64) float64 {
	rate := float64(b.Views-a.Views) / hours
	magnitude := 50 * math.Log1p(math.Abs(rate)) / math.Log1p(s.cfg.VelocityScale)
	if rate < 0 {
		magnitude = -magnitude
	}
	return clamp(neutralMidpoint+magnitude, 0, 100)
}

// retention is the engagement percentage at the latest observation, rescaled
// so the configured cap maxes the layer.
func (s *Scorer) retention(o observation.Observation) float64 {
	if o.Views <= 0 {
		return 0
	}
	pct := float64(o.Likes+o.Comments+o.Shares+o.Saves) / float64(o.Views) * 100
	return clamp(pct*100/s.cfg.RetentionCap, 0, 100)
}

// cascade rewards co-occurring videos on one sound with diminishing returns
// past the configured knee. A singleton contributes nothing.
func (s *Scorer) cascade(count int) float64 {
	n := float64(count - 1)
	return 100 * n / (n + float64(s.cfg.CascadeKnee))
}

// saturation is the crowding penalty: it grows once the cascade size or the
// absolute view count pass their thresholds, and stays zero below them.
func (s *Scorer) saturation(o observation.Observation, count int) float64 {
	cascadeExcess := float64(count-s.cfg.SaturationCascade) / float64(s.cfg.SaturationCascade)
	cascadeTerm := clamp(cascadeExcess, 0, 1)

	viewsTerm := 0.0
	if threshold := float64(s.cfg.SaturationViews); float64(o.Views) > threshold {
		ratio := (float64(o.Views) - threshold) / threshold
		viewsTerm = clamp(math.Log1p(ratio)/math.Log1p(9), 0, 1)
	}
	return 100 * (0.5*cascadeTerm + 0.5*viewsTerm)
}

// stability compares the actual growth delta against a decaying expected
// curve seeded from the first observation. Tracking the curve scores high;
// both stalled and runaway deltas fall off symmetrically in log space.
func (s *Scorer) stability(a, b observation.Observation, hours float64) float64 {
	expected := float64(a.Views) * s.cfg.ExpectedGrowthRate * hours * math.Exp(-hours/s.cfg.ExpectedDecayHours)
	actual := float64(b.Views - a.Views)
	if actual < 0 {
		actual = 0
	}
	deviation := math.Abs(math.Log((1 + actual) / (1 + expected)))
	return clamp(100-25*deviation, 0, 100)
}

// LightScore is the persistence-free ranking used by quick discovery scans:
// the engagement rate scaled to a 0-100 band. It deliberately ignores every
// temporal layer.
func LightScore(o observation.Observation) float64 {
	return clamp(o.EngagementRate()*10, 0, 100)
}

func elapsedHours(a, b observation.Observation) float64 {
	hours := b.CapturedAt.Sub(a.CapturedAt).Hours()
	if hours < 1 {
		return 1
	}
	return hours
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
