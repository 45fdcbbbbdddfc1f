package observation

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedRecord indicates a raw record with no extractable identity.
// Every other missing field degrades to a zero value instead of failing.
var ErrMalformedRecord = errors.New("malformed engagement record")

// RawRecord is one opaque engagement record as returned by a collector run.
// Shapes vary between scraper versions, so extraction is fallback-driven.
type RawRecord map[string]any

// Normalize converts a raw record into a canonical video snapshot captured at
// the given instant. It fails only when neither a platform id nor a URL can be
// extracted.
func Normalize(raw RawRecord, capturedAt time.Time) (Video, error) {
	stats := asMap(raw["stats"])
	author := firstMap(raw, "author", "authorMeta", "channel")
	videoMeta := firstMap(raw, "video", "videoMeta")
	music := firstMap(raw, "music", "musicMeta")

	platformID := asString(raw["id"])
	url := firstString(raw, "webVideoUrl", "postPage", "url", "videoUrl")
	if platformID == "" && url == "" {
		return Video{}, ErrMalformedRecord
	}
	if platformID == "" {
		platformID = url
	}

	followers := firstInt(author, "fans", "followers", "followerCount")
	if followers < 1 {
		followers = 1
	}

	video := Video{
		Observation: Observation{
			PlatformID:      platformID,
			URL:             url,
			CapturedAt:      capturedAt.UTC(),
			Views:           coalesceInt(raw, stats, "views", "playCount"),
			Likes:           coalesceInt(raw, stats, "likes", "diggCount"),
			Comments:        coalesceInt(raw, stats, "comments", "commentCount"),
			Shares:          coalesceInt(raw, stats, "shares", "shareCount"),
			Saves:           coalesceInt(raw, stats, "saves", "collectCount", "bookmarks", "saveCount"),
			AuthorFollowers: followers,
			AudioID:         asString(music["id"]),
		},
		Description:    firstString(raw, "text", "desc", "title", "description"),
		AuthorUsername: firstAuthorName(raw, author),
		CoverURL:       coverURL(raw, videoMeta),
		AudioTitle:     firstString(music, "title", "name"),
	}
	return video, nil
}

func firstAuthorName(raw RawRecord, author map[string]any) string {
	if name := firstString(author, "uniqueId", "username", "name"); name != "" {
		return name
	}
	return asString(raw["authorName"])
}

func coverURL(raw RawRecord, videoMeta map[string]any) string {
	cover := firstString(videoMeta, "cover", "coverUrl", "dynamicCover")
	if cover == "" {
		cover = firstString(raw, "coverUrl", "cover", "videoCover")
	}
	if cover == "" {
		return ""
	}
	// HEIC/WebP covers cannot be embedded; the CDN serves a JPEG variant at
	// the same path.
	cover = strings.ReplaceAll(cover, ".heic", ".jpeg")
	return strings.ReplaceAll(cover, ".webp", ".jpeg")
}

// coalesceInt checks the top-level record before the nested stats block,
// trying each key in both.
func coalesceInt(raw RawRecord, stats map[string]any, keys ...string) int64 {
	if v := firstInt(raw, keys...); v > 0 {
		return v
	}
	return firstInt(stats, keys...)
}

func firstMap(raw RawRecord, keys ...string) map[string]any {
	for _, key := range keys {
		if m := asMap(raw[key]); len(m) > 0 {
			return m
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := asString(m[key]); s != "" {
			return s
		}
	}
	return ""
}

func firstInt(m map[string]any, keys ...string) int64 {
	for _, key := range keys {
		if v, ok := asInt(m[key]); ok && v > 0 {
			return v
		}
	}
	return 0
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	default:
		return ""
	}
}

func asInt(v any) (int64, bool) {
	switch val := v.(type) {
	case float64:
		return int64(val), true
	case int:
		return int64(val), true
	case int64:
		return val, true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
