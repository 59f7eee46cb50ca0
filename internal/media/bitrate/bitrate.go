// Package bitrate picks a video bitrate that fits an encode into a byte budget.
package bitrate

const (
	// Step is the decrement applied per search iteration, in bits per second.
	Step uint64 = 1024
	// Floor is the lowest video bitrate the search will return.
	Floor uint64 = 100_000
)

// ProjectedBits estimates the encoded size, in bits, of a stream pair at the
// given bitrates over duration seconds.
func ProjectedBits(video, audio uint64, duration float64) float64 {
	return float64(video+audio) * duration
}

// EstimateVideoBitrate walks down from start in Step increments until the
// projected size of video plus audio fits in targetBits. start is returned
// unchanged when it already fits or is at or below Floor. The search never
// returns less than Floor, so the result may still exceed the budget for
// very long inputs.
func EstimateVideoBitrate(start, audio uint64, duration float64, targetBits uint64) uint64 {
	budget := float64(targetBits)
	if start <= Floor || ProjectedBits(start, audio, duration) <= budget {
		return start
	}
	video := start
	for ProjectedBits(video, audio, duration) > budget {
		if video-Floor < Step {
			return Floor
		}
		video -= Step
	}
	return video
}
