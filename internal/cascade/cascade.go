// Package cascade groups a batch of observations by shared audio so the
// scorer can weigh how widely a sound has spread within one scan.
package cascade

import "crest/internal/observation"

// Counts returns, for each observation in the batch, the number of batch
// members sharing its audio id. Observations without an audio id are
// singletons. The result is keyed by position so duplicate platform ids do
// not collapse.
func Counts(batch []observation.Video) []int {
	byAudio := make(map[string]int, len(batch))
	for _, video := range batch {
		if video.AudioID == "" {
			continue
		}
		byAudio[video.AudioID]++
	}

	counts := make([]int, len(batch))
	for i, video := range batch {
		if video.AudioID == "" {
			counts[i] = 1
			continue
		}
		counts[i] = byAudio[video.AudioID]
	}
	return counts
}
