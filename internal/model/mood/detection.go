package mood

import "github.com/zhouzirui/soulbuddy/companion/internal/analysis/emotion"

// Source records which path produced a detection.
type Source string

const (
	SourceTextHeuristic   Source = "text-heuristic"
	SourceTextClassifier  Source = "text-classifier"
	SourcePhotoDirect     Source = "photo-direct"
	SourcePhotoFallback   Source = "photo-fallback"
	SourcePhotoBackground Source = "photo-background"
)

// FromPhoto reports whether the server was authoritative for this source.
func (s Source) FromPhoto() bool {
	switch s {
	case SourcePhotoDirect, SourcePhotoFallback, SourcePhotoBackground:
		return true
	default:
		return false
	}
}

// Detection is the result of analyzing one text or photo input.
type Detection struct {
	Label      emotion.Label `json:"label"`
	Confidence *float64      `json:"confidence,omitempty"`
	Source     Source        `json:"source"`
	// Saved is set when the server already persisted the mood while analyzing.
	Saved bool `json:"saved,omitempty"`
	// BotReply is an optional reply the analysis endpoint generated itself.
	BotReply string `json:"botReply,omitempty"`
}

// ConfidenceOr returns the confidence or def when the server sent none.
func (d Detection) ConfidenceOr(def float64) float64 {
	if d.Confidence == nil {
		return def
	}
	return *d.Confidence
}
