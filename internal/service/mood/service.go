// Package mood persists detected emotions and serves cached mood reads.
package mood

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	analysis "github.com/zhouzirui/soulbuddy/companion/internal/analysis/emotion"
	"github.com/zhouzirui/soulbuddy/companion/internal/analysis/timeline"
	"github.com/zhouzirui/soulbuddy/companion/internal/cache"
	model "github.com/zhouzirui/soulbuddy/companion/internal/model/mood"
	"github.com/zhouzirui/soulbuddy/companion/internal/service/backend"
)

// Backend is the subset of the user service the mood service calls.
type Backend interface {
	SaveMood(ctx context.Context, record backend.MoodRecord) error
	TodayMoods(ctx context.Context) ([]backend.MoodEntry, error)
	TimelineToday(ctx context.Context) ([]timeline.Point, error)
	AnalyticsToday(ctx context.Context) (json.RawMessage, error)
}

// Config holds score defaults and the read TTL.
type Config struct {
	CacheTTL          time.Duration
	DefaultTextScore  float64
	DefaultPhotoScore float64
}

// DefaultConfig returns the defaults used when a field is unset.
func DefaultConfig() Config {
	return Config{
		CacheTTL:          5 * time.Minute,
		DefaultTextScore:  0.8,
		DefaultPhotoScore: 0.7,
	}
}

// TodayKeys lists every cache key that describes the current day.
var TodayKeys = []string{cache.KeyMoodToday, cache.KeyMoodTimeline, cache.KeyMoodAnalytics}

// Service implements mood sync plus the cached "today" reads.
type Service struct {
	api   Backend
	cache *cache.Cache
	cfg   Config
}

// NewService creates the mood service. c may be nil to disable caching.
func NewService(api Backend, c *cache.Cache, cfg Config) *Service {
	defaults := DefaultConfig()
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaults.CacheTTL
	}
	if cfg.DefaultTextScore <= 0 {
		cfg.DefaultTextScore = defaults.DefaultTextScore
	}
	if cfg.DefaultPhotoScore <= 0 {
		cfg.DefaultPhotoScore = defaults.DefaultPhotoScore
	}
	return &Service{api: api, cache: c, cfg: cfg}
}

// SaveIfNeeded persists detection unless the server already did. Failures
// are logged and never returned.
func (s *Service) SaveIfNeeded(ctx context.Context, detection model.Detection, notes string) {
	if detection.Saved {
		return
	}
	label := strings.TrimSpace(string(detection.Label))
	if label == "" {
		return
	}
	// text Neutral means no signal; only the photo pipeline may record it.
	if detection.Label == analysis.Neutral && !detection.Source.FromPhoto() {
		return
	}

	def := s.cfg.DefaultTextScore
	if detection.Source.FromPhoto() {
		def = s.cfg.DefaultPhotoScore
	}

	record := backend.MoodRecord{
		Emotion:      label,
		EmotionScore: detection.ConfidenceOr(def),
		Notes:        notes,
		Source:       string(detection.Source),
		Lifestyle:    map[string]any{},
	}
	if err := s.api.SaveMood(ctx, record); err != nil {
		log.Printf("[mood] save %s from %s failed: %v", label, detection.Source, err)
		return
	}

	s.cache.Invalidate(ctx, TodayKeys...)
}

// InvalidateToday drops every cached "today" read.
func (s *Service) InvalidateToday(ctx context.Context) {
	s.cache.Invalidate(ctx, TodayKeys...)
}

// TodayMoods returns today's records, from cache unless refresh is set.
func (s *Service) TodayMoods(ctx context.Context, refresh bool) ([]backend.MoodEntry, error) {
	return readThrough(ctx, s, cache.KeyMoodToday, refresh, s.api.TodayMoods)
}

// TimelineView is the aggregated chart payload.
type TimelineView struct {
	SlotMinutes int                  `json:"slotMinutes"`
	Slots       []model.TimelineSlot `json:"slots"`
}

// Timeline fetches today's points (through the cache) and buckets them.
func (s *Service) Timeline(ctx context.Context, refresh bool) (TimelineView, error) {
	points, err := readThrough(ctx, s, cache.KeyMoodTimeline, refresh, s.api.TimelineToday)
	if err != nil {
		return TimelineView{}, err
	}

	width := timeline.InferSlotWidth(points)
	slots := timeline.BuildTimeline(timeline.Entries(points), width)
	if slots == nil {
		slots = []model.TimelineSlot{}
	}
	return TimelineView{SlotMinutes: int(width / time.Minute), Slots: slots}, nil
}

// Analytics returns the analytics payload as sent by the server.
func (s *Service) Analytics(ctx context.Context, refresh bool) (json.RawMessage, error) {
	return readThrough(ctx, s, cache.KeyMoodAnalytics, refresh, s.api.AnalyticsToday)
}

func readThrough[T any](ctx context.Context, s *Service, key string, refresh bool, fetch func(context.Context) (T, error)) (T, error) {
	if !refresh {
		if cached, ok := cache.Get[T](ctx, s.cache, key, s.cfg.CacheTTL); ok {
			return cached, nil
		}
	}

	value, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	cache.Set(ctx, s.cache, key, value)
	return value, nil
}
