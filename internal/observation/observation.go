// Package observation converts heterogeneous raw engagement records into
// canonical video snapshots consumed by the scoring pipeline.
package observation

import "time"

// Observation is one measurement of a video at an instant. Counter fields
// default to zero when the source omits them; AuthorFollowers is floored at 1
// so ratio-based score layers stay defined.
type Observation struct {
	PlatformID      string    `json:"platform_id"`
	URL             string    `json:"url"`
	CapturedAt      time.Time `json:"captured_at"`
	Views           int64     `json:"views"`
	Likes           int64     `json:"likes"`
	Comments        int64     `json:"comments"`
	Shares          int64     `json:"shares"`
	Saves           int64     `json:"saves"`
	AuthorFollowers int64     `json:"author_followers"`
	AudioID         string    `json:"audio_id,omitempty"`
	Embedding       []float32 `json:"-"`
}

// EngagementRate returns interactions per view as a percentage. Zero views
// yields zero rather than dividing by zero.
func (o Observation) EngagementRate() float64 {
	if o.Views <= 0 {
		return 0
	}
	return float64(o.Likes+o.Comments+o.Shares) / float64(o.Views) * 100
}

// Video is an observation plus the descriptive metadata surfaced to callers
// but irrelevant to scoring.
type Video struct {
	Observation

	Description    string `json:"description,omitempty"`
	AuthorUsername string `json:"author_username,omitempty"`
	CoverURL       string `json:"cover_url,omitempty"`
	AudioTitle     string `json:"audio_title,omitempty"`
}
