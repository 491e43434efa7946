// Package chat drives conversations: it owns the message log and the per
// conversation state machine for text and photo turns.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	analysis "github.com/zhouzirui/soulbuddy/companion/internal/analysis/emotion"
	"github.com/zhouzirui/soulbuddy/companion/internal/model/chat"
	"github.com/zhouzirui/soulbuddy/companion/internal/model/mood"
	"github.com/zhouzirui/soulbuddy/companion/internal/service/backend"
	"github.com/zhouzirui/soulbuddy/companion/internal/service/emotion"
)

// Canned lines used when no server reply is available.
const (
	WelcomeMessage           = "Hello! I'm SoulBuddy. How can I help you today?"
	ConnectFailureReply      = "Sorry, I couldn't connect to the server. Please try again."
	PhotoPrompt              = "I just shared my photo. How do I look?"
	PhotoReplyFallback       = "Nice photo! How are you feeling today?"
	PhotoRejectedReply       = "That file doesn't look like a photo. Please choose a JPG, PNG, HEIC or WebP image."
	PhotoAnalysisFailedReply = "Sorry, I couldn't analyze your photo. Please try again."
	PhotoTaskFailedReply     = "Something went wrong while analyzing your photo. Please try again."
	PhotoTimeoutReply        = "Analyzing your photo is taking longer than expected. Please try again in a moment."
)

// StatusAnalyzing is published while a queued photo task is being polled.
const StatusAnalyzing = "analyzing_photo"

var (
	ErrConversationBusy    = errors.New("conversation is busy")
	ErrEmptyMessage        = errors.New("message text is required")
	ErrConversationMissing = errors.New("conversation id is required")
)

// ChatAPI is the remote chat endpoint.
type ChatAPI interface {
	Chat(ctx context.Context, req backend.ChatRequest) (string, error)
	ResetChat(ctx context.Context) error
}

// PhotoAnalyzer runs the photo emotion cascade.
type PhotoAnalyzer interface {
	AnalyzePhoto(ctx context.Context, req emotion.PhotoRequest) (mood.Detection, error)
}

// MoodSaver persists detections.
type MoodSaver interface {
	SaveIfNeeded(ctx context.Context, detection mood.Detection, notes string)
}

// TextDetector infers an emotion from text. ok=false means no signal.
type TextDetector interface {
	Classify(ctx context.Context, history []chat.Message, text string) (mood.Detection, bool)
}

// Deps wires the orchestrator to its collaborators.
type Deps struct {
	Chat     ChatAPI
	Photos   PhotoAnalyzer
	Moods    MoodSaver
	Detector TextDetector
	Log      *LogStore
	Hub      *Hub
}

// Config carries per-process settings.
type Config struct {
	UserID string
	// DetectTimeout bounds one text emotion classification. <= 0 uses 3s.
	DetectTimeout time.Duration
}

// Photo is a captured asset submitted by the UI.
type Photo struct {
	Data     []byte
	MIMEType string
	FileName string
	// Ref is the UI's local reference for the image; generated when empty.
	Ref string
}

// Turn summarizes what one submission appended.
type Turn struct {
	User      *chat.Message   `json:"user,omitempty"`
	Reply     chat.Message    `json:"reply"`
	Detection *mood.Detection `json:"detection,omitempty"`
	Rejected  bool            `json:"rejected,omitempty"`
}

type conversation struct {
	id string

	mu        sync.Mutex
	loaded    bool
	state     chat.State
	resetting bool
	messages  []chat.Message
}

// Orchestrator owns every conversation of this process.
type Orchestrator struct {
	chat     ChatAPI
	photos   PhotoAnalyzer
	moods    MoodSaver
	detector TextDetector
	log      *LogStore
	hub      *Hub
	cfg      Config

	mu    sync.Mutex
	convs map[string]*conversation
}

// NewOrchestrator creates the orchestrator. A nil Detector falls back to the
// keyword heuristic; a nil Hub disables live events.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	detector := deps.Detector
	if detector == nil {
		detector = &emotion.Classifier{}
	}
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = 3 * time.Second
	}
	return &Orchestrator{
		chat:     deps.Chat,
		photos:   deps.Photos,
		moods:    deps.Moods,
		detector: detector,
		log:      deps.Log,
		hub:      deps.Hub,
		cfg:      cfg,
		convs:    make(map[string]*conversation),
	}
}

// Messages returns the conversation log, restoring it on first use. A
// conversation with no stored log gets a welcome message that is neither
// kept nor persisted until the first submission.
func (o *Orchestrator) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, ErrConversationMissing
	}

	o.mu.Lock()
	_, known := o.convs[conversationID]
	o.mu.Unlock()
	if !known {
		stored, found, err := o.log.Load(ctx, conversationID)
		if err != nil {
			log.Printf("[chat] restore %s failed: %v", conversationID, err)
		}
		if err != nil || !found || len(stored) == 0 {
			return []chat.Message{newMessage(chat.KindText, WelcomeMessage, chat.SenderAssistant)}, nil
		}
	}

	conv, err := o.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return append([]chat.Message(nil), conv.messages...), nil
}

// State reports the conversation's current state.
func (o *Orchestrator) State(conversationID string) chat.State {
	o.mu.Lock()
	conv, ok := o.convs[conversationID]
	o.mu.Unlock()
	if !ok {
		return chat.StateIdle
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.state
}

// SubmitText runs a text turn.
func (o *Orchestrator) SubmitText(ctx context.Context, conversationID, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, ErrEmptyMessage
	}

	conv, err := o.acquire(ctx, conversationID, chat.StateSending)
	if err != nil {
		return Turn{}, err
	}

	var saves sync.WaitGroup
	defer saves.Wait()
	defer o.setState(conv, chat.StateIdle)

	user := o.append(conv, chat.KindText, text, chat.SenderUser)
	turn := Turn{User: &user}

	// The chat request carries the keyword label; the detector (possibly an
	// LLM) runs alongside it and decides what gets saved.
	moodLabel := analysis.Detect(text)
	detections := make(chan *mood.Detection, 1)
	history := o.history(conv)
	saves.Add(1)
	go func() {
		defer saves.Done()
		defer recoverTurn(conv.id, "mood detection")
		sent := false
		defer func() {
			if !sent {
				detections <- nil
			}
		}()

		detectCtx, cancel := context.WithTimeout(ctx, o.cfg.DetectTimeout)
		detection, detected := o.detector.Classify(detectCtx, history, text)
		cancel()
		if !detected {
			return
		}
		detections <- &detection
		sent = true
		o.moods.SaveIfNeeded(ctx, detection, text)
	}()

	turn.Reply = o.respond(conv, ConnectFailureReply, func() string {
		o.setState(conv, chat.StateAwaitingReply)
		reply, err := o.chat.Chat(ctx, backend.ChatRequest{
			Message: text,
			Mood:    string(moodLabel),
			UserID:  o.cfg.UserID,
		})
		if err != nil {
			log.Printf("[chat] reply for %s failed: %v", conv.id, err)
			return ""
		}
		return reply
	})
	turn.Detection = <-detections
	return turn, nil
}

// SubmitPhoto runs a photo turn.
func (o *Orchestrator) SubmitPhoto(ctx context.Context, conversationID string, photo Photo) (Turn, error) {
	conv, err := o.acquire(ctx, conversationID, chat.StateCapturingPhoto)
	if err != nil {
		return Turn{}, err
	}
	defer o.setState(conv, chat.StateIdle)

	if len(photo.Data) == 0 || !IsImage(photo.MIMEType, photo.FileName) {
		reply := o.append(conv, chat.KindText, PhotoRejectedReply, chat.SenderAssistant)
		return Turn{Reply: reply, Rejected: true}, nil
	}

	ref := strings.TrimSpace(photo.Ref)
	if ref == "" {
		ref = "photo-" + newMessageID()
	}
	user := o.append(conv, chat.KindImage, ref, chat.SenderUser)
	turn := Turn{User: &user}

	o.setState(conv, chat.StateAnalyzingPhoto)
	turn.Reply = o.respond(conv, PhotoAnalysisFailedReply, func() string {
		detection, err := o.photos.AnalyzePhoto(ctx, emotion.PhotoRequest{
			Data:     photo.Data,
			MIMEType: photo.MIMEType,
			FileName: photo.FileName,
			OnStage: func(ev emotion.StageEvent) {
				if ev.Outcome == emotion.OutcomeQueued {
					o.hub.Publish(Event{Kind: EventStatus, ConversationID: conv.id, Status: StatusAnalyzing})
				}
			},
		})
		if err != nil {
			log.Printf("[chat] photo analysis for %s failed: %v", conv.id, err)
			return photoFailureReply(err)
		}
		turn.Detection = &detection

		o.moods.SaveIfNeeded(ctx, detection, "Photo emotion: "+string(detection.Label))

		o.setState(conv, chat.StateAwaitingReply)
		reply, err := o.chat.Chat(ctx, backend.ChatRequest{
			Message: PhotoPrompt,
			Mood:    string(detection.Label),
			UserID:  o.cfg.UserID,
		})
		if err == nil {
			return reply
		}
		log.Printf("[chat] photo reply for %s failed: %v", conv.id, err)
		if detection.BotReply != "" {
			return detection.BotReply
		}
		return PhotoReplyFallback
	})
	return turn, nil
}

// Reset clears the server-side memory and re-seeds the welcome message.
func (o *Orchestrator) Reset(ctx context.Context, conversationID string) ([]chat.Message, error) {
	conv, err := o.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	conv.mu.Lock()
	if conv.state.Busy() || conv.resetting {
		conv.mu.Unlock()
		return nil, ErrConversationBusy
	}
	conv.resetting = true
	conv.mu.Unlock()

	defer func() {
		conv.mu.Lock()
		conv.resetting = false
		conv.mu.Unlock()
	}()

	if err := o.chat.ResetChat(ctx); err != nil {
		return nil, fmt.Errorf("reset chat: %w", err)
	}

	welcome := newMessage(chat.KindText, WelcomeMessage, chat.SenderAssistant)
	conv.mu.Lock()
	conv.messages = []chat.Message{welcome}
	messages := append([]chat.Message(nil), conv.messages...)
	conv.mu.Unlock()

	if err := o.log.SaveNow(ctx, conv.id, messages); err != nil {
		log.Printf("[chat] persist reset %s failed: %v", conv.id, err)
	}
	o.hub.Publish(Event{Kind: EventMessage, ConversationID: conv.id, Message: &welcome})
	return messages, nil
}

// Close flushes pending log writes.
func (o *Orchestrator) Close(ctx context.Context) {
	o.log.Flush(ctx)
}

// IsImage accepts image/* MIME types or a known image extension.
func IsImage(mimeType, fileName string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if strings.HasPrefix(mt, "image/") {
		return true
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".jpg", ".jpeg", ".png", ".heic", ".webp":
		return true
	default:
		return false
	}
}

func photoFailureReply(err error) string {
	switch {
	case errors.Is(err, emotion.ErrAnalysisTimeout):
		return PhotoTimeoutReply
	case errors.Is(err, emotion.ErrTaskFailed):
		return PhotoTaskFailedReply
	default:
		return PhotoAnalysisFailedReply
	}
}

func (o *Orchestrator) conversation(ctx context.Context, conversationID string) (*conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, ErrConversationMissing
	}

	o.mu.Lock()
	conv, ok := o.convs[conversationID]
	if !ok {
		conv = &conversation{id: conversationID, state: chat.StateIdle}
		o.convs[conversationID] = conv
	}
	o.mu.Unlock()

	conv.mu.Lock()
	defer conv.mu.Unlock()
	if conv.loaded {
		return conv, nil
	}

	messages, found, err := o.log.Load(ctx, conversationID)
	if err != nil {
		// An unreadable log is replaced by a fresh seed.
		log.Printf("[chat] restore %s failed: %v", conversationID, err)
		found = false
	}
	if !found || len(messages) == 0 {
		messages = []chat.Message{newMessage(chat.KindText, WelcomeMessage, chat.SenderAssistant)}
		if err := o.log.SaveNow(ctx, conversationID, messages); err != nil {
			log.Printf("[chat] persist welcome for %s failed: %v", conversationID, err)
		}
	}
	conv.messages = messages
	conv.loaded = true
	return conv, nil
}

// acquire loads the conversation and moves it out of idle, rejecting a
// second submission while one is in flight.
func (o *Orchestrator) acquire(ctx context.Context, conversationID string, state chat.State) (*conversation, error) {
	conv, err := o.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	conv.mu.Lock()
	if conv.state.Busy() || conv.resetting {
		conv.mu.Unlock()
		return nil, ErrConversationBusy
	}
	conv.state = state
	conv.mu.Unlock()

	o.hub.Publish(Event{Kind: EventState, ConversationID: conv.id, State: state})
	return conv, nil
}

func (o *Orchestrator) setState(conv *conversation, state chat.State) {
	conv.mu.Lock()
	if conv.state == state {
		conv.mu.Unlock()
		return
	}
	conv.state = state
	o.hub.Publish(Event{Kind: EventState, ConversationID: conv.id, State: state})
	conv.mu.Unlock()
}

func (o *Orchestrator) append(conv *conversation, kind chat.Kind, content string, sender chat.Sender) chat.Message {
	msg := newMessage(kind, content, sender)

	conv.mu.Lock()
	conv.messages = append(conv.messages, msg)
	o.log.Save(conv.id, conv.messages)
	o.hub.Publish(Event{Kind: EventMessage, ConversationID: conv.id, Message: &msg})
	conv.mu.Unlock()
	return msg
}

func (o *Orchestrator) history(conv *conversation) []chat.Message {
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return append([]chat.Message(nil), conv.messages...)
}

// respond runs fn and appends exactly one assistant message with its result,
// or with fallback when fn returns nothing or panics.
func (o *Orchestrator) respond(conv *conversation, fallback string, fn func() string) chat.Message {
	var content string
	func() {
		defer recoverTurn(conv.id, "turn")
		content = strings.TrimSpace(fn())
	}()
	if content == "" {
		content = fallback
	}
	return o.append(conv, chat.KindText, content, chat.SenderAssistant)
}

func recoverTurn(conversationID, what string) {
	if r := recover(); r != nil {
		log.Printf("[chat] %s for %s panicked: %v", what, conversationID, r)
	}
}

func newMessage(kind chat.Kind, content string, sender chat.Sender) chat.Message {
	return chat.Message{
		ID:        newMessageID(),
		Kind:      kind,
		Content:   content,
		Sender:    sender,
		CreatedAt: time.Now().UTC(),
	}
}

func newMessageID() string {
	return uuid.Must(uuid.NewV7()).String()
}
