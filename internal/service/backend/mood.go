package backend

import (
	"context"
	"encoding/json"

	"github.com/zhouzirui/soulbuddy/companion/internal/analysis/timeline"
)

// MoodRecord is the body of POST /mood.
type MoodRecord struct {
	Emotion      string         `json:"emotion"`
	EmotionScore float64        `json:"emotion_score"`
	Notes        string         `json:"notes,omitempty"`
	Source       string         `json:"source,omitempty"`
	Lifestyle    map[string]any `json:"lifestyle"`
}

// MoodEntry is one element of GET /mood/today.
type MoodEntry struct {
	ID           json.RawMessage `json:"id,omitempty"`
	Emotion      string          `json:"emotion"`
	EmotionScore float64         `json:"emotion_score"`
	Notes        string          `json:"notes,omitempty"`
	CreatedAt    string          `json:"created_at,omitempty"`
	Timestamp    string          `json:"timestamp,omitempty"`
}

// SaveMood persists a mood record on the user service.
func (c *Client) SaveMood(ctx context.Context, record MoodRecord) error {
	if record.Lifestyle == nil {
		record.Lifestyle = map[string]any{}
	}
	_, err := c.postJSON(ctx, "save mood", c.cfg.MoodBaseURL+"/mood", c.cfg.MoodTimeout, true, record, nil)
	return err
}

// TodayMoods lists today's mood records.
func (c *Client) TodayMoods(ctx context.Context) ([]MoodEntry, error) {
	var entries []MoodEntry
	if err := c.getJSON(ctx, "today moods", c.cfg.MoodBaseURL+"/mood/today", c.cfg.MoodTimeout, true, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// TimelineToday lists today's bucketed mood points.
func (c *Client) TimelineToday(ctx context.Context) ([]timeline.Point, error) {
	var points []timeline.Point
	if err := c.getJSON(ctx, "mood timeline", c.cfg.MoodBaseURL+"/mood/timeline/today", c.cfg.MoodTimeout, true, &points); err != nil {
		return nil, err
	}
	return points, nil
}

// AnalyticsToday returns the aggregated analytics payload untouched.
func (c *Client) AnalyticsToday(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "mood analytics", c.cfg.MoodBaseURL+"/mood/analytics/today", c.cfg.MoodTimeout, true, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Profile fetches the user profile untouched.
func (c *Client) Profile(ctx context.Context, userID string) (json.RawMessage, error) {
	if userID == "" {
		userID = c.cfg.UserID
	}
	var raw json.RawMessage
	if err := c.getJSON(ctx, "profile", c.cfg.MoodBaseURL+"/profile/"+userID, c.cfg.ProfileTimeout, true, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
