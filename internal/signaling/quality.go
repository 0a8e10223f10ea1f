package signaling

import (
	"github.com/cropconsult/backend/internal/models"
)

// Classification thresholds. Poor is checked first; a report is Medium only
// when it is not Poor.
const (
	poorBandwidth  = 500_000
	poorLatency    = 200.0
	poorPacketLoss = 0.05

	mediumBandwidth  = 1_000_000
	mediumLatency    = 100.0
	mediumPacketLoss = 0.02
)

// Classify maps a network quality report to the media settings a client
// should apply. Poor conditions disable video and keep audio; medium and
// good conditions keep video at a reduced or full tier.
func Classify(q models.NetworkQuality) models.MediaSettings {
	switch {
	case q.Bandwidth < poorBandwidth || q.Latency > poorLatency || q.PacketLoss > poorPacketLoss:
		return models.MediaSettings{
			Quality:         models.QualityPoor,
			VideoEnabled:    false,
			VideoQuality:    models.VideoLow,
			AudioEnabled:    true,
			RecommendAudio:  true,
			Recommendations: advisories(q),
		}
	case q.Bandwidth < mediumBandwidth || q.Latency > mediumLatency || q.PacketLoss > mediumPacketLoss:
		return models.MediaSettings{
			Quality:         models.QualityMedium,
			VideoEnabled:    true,
			VideoQuality:    models.VideoMedium,
			AudioEnabled:    true,
			Recommendations: advisories(q),
		}
	default:
		return models.MediaSettings{
			Quality:         models.QualityGood,
			VideoEnabled:    true,
			VideoQuality:    models.VideoHigh,
			AudioEnabled:    true,
			Recommendations: advisories(q),
		}
	}
}

// advisories returns the human-readable hints for a report. Several can
// apply at once; a clean report gets exactly one confirmation message.
func advisories(q models.NetworkQuality) []string {
	var out []string
	if q.Bandwidth < poorBandwidth {
		out = append(out, "low bandwidth detected, consider turning off video")
	}
	if q.Latency > poorLatency {
		out = append(out, "high latency detected, responses may be delayed")
	}
	if q.PacketLoss > poorPacketLoss {
		out = append(out, "connection unstable, audio-only mode recommended")
	}
	if len(out) == 0 {
		out = append(out, "network conditions are good")
	}
	return out
}
