package chat

// State is the orchestrator state of a single conversation.
type State string

const (
	StateIdle           State = "idle"
	StateSending        State = "sending"
	StateAwaitingReply  State = "awaiting_reply"
	StateCapturingPhoto State = "capturing_photo"
	StateAnalyzingPhoto State = "analyzing_photo"
)

// Busy reports whether a turn is in flight.
func (s State) Busy() bool {
	return s != "" && s != StateIdle
}
