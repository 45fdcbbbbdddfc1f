package testsupport

import (
	"fmt"
	"time"

	"crest/internal/observation"
)

// FixtureTime is the capture instant used by observation fixtures.
var FixtureTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Video builds a canonical video snapshot for tests.
func Video(platformID, audioID string, views, followers int64) observation.Video {
	v := observation.Video{
		Observation: observation.Observation{
			PlatformID:      platformID,
			URL:             fmt.Sprintf("https://example.com/v/%s", platformID),
			CapturedAt:      FixtureTime,
			Views:           views,
			Likes:           views / 20,
			Comments:        views / 200,
			Shares:          views / 400,
			AuthorFollowers: followers,
			AudioID:         audioID,
		},
		Description:    "fixture " + platformID,
		AuthorUsername: "creator-" + platformID,
	}
	return v
}

// RawRecord builds a collector-shaped raw record matching Video's fixture
// fields, for tests that exercise normalization end to end.
func RawRecord(platformID, audioID string, views, followers int64) observation.RawRecord {
	raw := observation.RawRecord{
		"id":          platformID,
		"webVideoUrl": fmt.Sprintf("https://example.com/v/%s", platformID),
		"text":        "fixture " + platformID,
		"views":       float64(views),
		"likes":       float64(views / 20),
		"comments":    float64(views / 200),
		"shares":      float64(views / 400),
		"author": map[string]any{
			"uniqueId": "creator-" + platformID,
			"fans":     float64(followers),
		},
	}
	if audioID != "" {
		raw["music"] = map[string]any{"id": audioID, "title": "sound " + audioID}
	}
	return raw
}
