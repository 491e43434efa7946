package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/soulbuddy/companion/internal/model/chat"
	"github.com/zhouzirui/soulbuddy/companion/internal/storage"
)

const logKeyPrefix = "chat_messages:"

// LogStore persists message logs, batching rapid updates behind a debounce.
type LogStore struct {
	store storage.Store
	delay time.Duration

	mu      sync.Mutex
	pending map[string]*pendingWrite
	seq     map[string]uint64

	writeMu sync.Mutex
	written map[string]uint64
}

type pendingWrite struct {
	timer    *time.Timer
	seq      uint64
	messages []chat.Message
}

// NewLogStore creates a log store. delay <= 0 uses 500ms.
func NewLogStore(store storage.Store, delay time.Duration) *LogStore {
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &LogStore{
		store:   store,
		delay:   delay,
		pending: make(map[string]*pendingWrite),
		seq:     make(map[string]uint64),
		written: make(map[string]uint64),
	}
}

func logKey(conversationID string) string {
	return logKeyPrefix + conversationID
}

// Load returns the persisted log. A pending write wins over the store.
func (l *LogStore) Load(ctx context.Context, conversationID string) ([]chat.Message, bool, error) {
	l.mu.Lock()
	if p, ok := l.pending[conversationID]; ok {
		messages := append([]chat.Message(nil), p.messages...)
		l.mu.Unlock()
		return messages, true, nil
	}
	l.mu.Unlock()

	raw, ok, err := l.store.Get(ctx, logKey(conversationID))
	if err != nil {
		return nil, false, fmt.Errorf("load chat log %s: %w", conversationID, err)
	}
	if !ok {
		return nil, false, nil
	}

	var messages []chat.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, false, fmt.Errorf("decode chat log %s: %w", conversationID, err)
	}
	return messages, true, nil
}

// Save schedules a write of messages after the debounce delay. A later Save
// for the same conversation replaces the pending one and restarts the delay.
func (l *LogStore) Save(conversationID string, messages []chat.Message) {
	p := &pendingWrite{messages: append([]chat.Message(nil), messages...)}

	l.mu.Lock()
	if prev, ok := l.pending[conversationID]; ok {
		prev.timer.Stop()
	}
	p.seq = l.next(conversationID)
	l.pending[conversationID] = p
	p.timer = time.AfterFunc(l.delay, func() { l.fire(conversationID, p) })
	l.mu.Unlock()
}

// SaveNow writes immediately, cancelling any pending write.
func (l *LogStore) SaveNow(ctx context.Context, conversationID string, messages []chat.Message) error {
	l.mu.Lock()
	if prev, ok := l.pending[conversationID]; ok {
		prev.timer.Stop()
		delete(l.pending, conversationID)
	}
	seq := l.next(conversationID)
	l.mu.Unlock()
	return l.write(ctx, conversationID, seq, messages)
}

// Flush writes every pending log now.
func (l *LogStore) Flush(ctx context.Context) {
	l.mu.Lock()
	pending := l.pending
	l.pending = make(map[string]*pendingWrite)
	l.mu.Unlock()

	for id, p := range pending {
		p.timer.Stop()
		if err := l.write(ctx, id, p.seq, p.messages); err != nil {
			log.Printf("[chat] flush %s failed: %v", id, err)
		}
	}
}

func (l *LogStore) fire(conversationID string, p *pendingWrite) {
	l.mu.Lock()
	if l.pending[conversationID] != p {
		l.mu.Unlock()
		return
	}
	delete(l.pending, conversationID)
	l.mu.Unlock()

	if err := l.write(context.Background(), conversationID, p.seq, p.messages); err != nil {
		log.Printf("[chat] persist %s failed: %v", conversationID, err)
	}
}

// next hands out the write sequence for a conversation. Callers hold l.mu.
func (l *LogStore) next(conversationID string) uint64 {
	l.seq[conversationID]++
	return l.seq[conversationID]
}

// write stores messages unless a newer snapshot of the same conversation has
// already been written.
func (l *LogStore) write(ctx context.Context, conversationID string, seq uint64, messages []chat.Message) error {
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode chat log %s: %w", conversationID, err)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if seq <= l.written[conversationID] {
		return nil
	}
	if err := l.store.Put(ctx, logKey(conversationID), raw); err != nil {
		return err
	}
	l.written[conversationID] = seq
	return nil
}
