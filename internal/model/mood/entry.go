package mood

import (
	"time"

	"github.com/zhouzirui/soulbuddy/companion/internal/analysis/emotion"
)

// Entry is a persisted mood record as seen by the client.
type Entry struct {
	Emotion   emotion.Label `json:"emotion"`
	Timestamp time.Time     `json:"timestamp"`
	Intensity float64       `json:"intensity"`
}

// TimelineSlot is one chart bucket.
type TimelineSlot struct {
	SlotStart time.Time     `json:"slotStart"`
	Label     emotion.Label `json:"label"`
	Intensity float64       `json:"intensity"`
	Count     int           `json:"count"`
}

// TaskStatus is the server-side state of a background analysis task.
type TaskStatus string

const (
	TaskProcessing TaskStatus = "processing"
	TaskDone       TaskStatus = "done"
	TaskError      TaskStatus = "error"
)

// BackgroundTask is the client's transient handle on a queued analysis.
type BackgroundTask struct {
	TaskID string     `json:"taskId"`
	Status TaskStatus `json:"status"`
	Result *Detection `json:"result,omitempty"`
}
