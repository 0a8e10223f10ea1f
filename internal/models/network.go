package models

// NetworkQuality is one measurement of a participant's network conditions,
// supplied per negotiation. It is ephemeral and never persisted.
type NetworkQuality struct {
	Bandwidth  int64   `json:"bandwidth"`   // bits per second
	Latency    float64 `json:"latency"`     // milliseconds
	PacketLoss float64 `json:"packet_loss"` // fraction, 0..1
	Jitter     float64 `json:"jitter"`      // milliseconds
}

// QualityLevel is the classified tier of a NetworkQuality measurement.
type QualityLevel string

const (
	QualityPoor   QualityLevel = "poor"
	QualityMedium QualityLevel = "medium"
	QualityGood   QualityLevel = "good"
)

// VideoQuality is the adaptive video tier selected for a classification.
type VideoQuality string

const (
	VideoLow    VideoQuality = "low"
	VideoMedium VideoQuality = "medium"
	VideoHigh   VideoQuality = "high"
)

// MediaSettings is the adaptive media configuration derived from a
// NetworkQuality classification.
type MediaSettings struct {
	Quality         QualityLevel `json:"quality"`
	VideoEnabled    bool         `json:"video_enabled"`
	VideoQuality    VideoQuality `json:"video_quality"`
	AudioEnabled    bool         `json:"audio_enabled"`
	RecommendAudio  bool         `json:"recommend_audio_only"`
	Recommendations []string     `json:"recommendations"`
}
