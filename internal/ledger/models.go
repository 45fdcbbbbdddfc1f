package ledger

import (
	"time"

	"crest/internal/observation"
	"crest/internal/uts"
)

// Record is the durable unit tracked across time: one video per owner
// context, with the creation snapshot (point A), the optional rescan snapshot
// (point B), and the current score.
type Record struct {
	ID             int64
	OwnerContext   string
	PlatformID     string
	URL            string
	Description    string
	AuthorUsername string
	CoverURL       string
	AudioTitle     string

	PointA observation.Observation
	// PointB is nil until the rescan batch reconciles the record.
	PointB *observation.Observation

	CascadeCount int
	// ClusterID is nil when the video carried no embedding.
	ClusterID *int

	UTSScore  float64
	Breakdown uts.Breakdown

	// Saved records persist across buffer reads; unsaved reconciled records
	// are deleted after exactly one read.
	Saved bool
	// Pending is set while the record is enrolled in an unfired rescan
	// batch, blocking re-enrollment.
	Pending bool

	ReconciledAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Reconciled reports whether a point B snapshot has been written back.
func (r *Record) Reconciled() bool {
	return r.ReconciledAt != nil
}

// NewRecord builds an unreconciled record from a freshly scored video.
func NewRecord(owner string, video observation.Video, cascadeCount int, breakdown uts.Breakdown) *Record {
	return &Record{
		OwnerContext:   owner,
		PlatformID:     video.PlatformID,
		URL:            video.URL,
		Description:    video.Description,
		AuthorUsername: video.AuthorUsername,
		CoverURL:       video.CoverURL,
		AudioTitle:     video.AudioTitle,
		PointA:         video.Observation,
		CascadeCount:   cascadeCount,
		UTSScore:       breakdown.FinalScore,
		Breakdown:      breakdown,
	}
}
