package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	analysis "github.com/zhouzirui/soulbuddy/companion/internal/analysis/emotion"
	"github.com/zhouzirui/soulbuddy/companion/internal/model/chat"
	"github.com/zhouzirui/soulbuddy/companion/internal/model/mood"
)

// ClassifierConfig 控制文本情绪分类器的行为。
type ClassifierConfig struct {
	Enabled      bool
	HistoryLimit int
}

// Classifier 使用大模型判断文本情绪，不可用时回退到关键词启发式。
type Classifier struct {
	enabled      bool
	chain        compose.Runnable[map[string]any, *schema.Message]
	historyLimit int
}

// NewClassifier 创建文本情绪分类器。chatModel 为 nil 或未启用时只使用启发式规则。
func NewClassifier(ctx context.Context, chatModel model.ChatModel, cfg ClassifierConfig) (*Classifier, error) {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 6
	}

	c := &Classifier{
		enabled:      cfg.Enabled && chatModel != nil,
		historyLimit: historyLimit,
	}
	if !c.enabled {
		return c, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(classifierSystemPrompt),
		schema.UserMessage(classifierUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile emotion classifier chain: %w", err)
	}

	c.chain = runnable
	return c, nil
}

// Enabled 返回大模型分类是否可用。
func (c *Classifier) Enabled() bool {
	return c != nil && c.enabled && c.chain != nil
}

// Classify 推断文本情绪。ok=false 表示没有明确情绪信号（包括 Neutral），调用方不应保存。
func (c *Classifier) Classify(ctx context.Context, history []chat.Message, text string) (mood.Detection, bool) {
	if !c.Enabled() {
		return heuristicDetection(text)
	}

	msg, err := c.chain.Invoke(ctx, map[string]any{
		"history":      formatHistory(history, c.historyLimit),
		"user_message": strings.TrimSpace(text),
	})
	if err != nil {
		log.Printf("[classifier] invoke failed, use heuristic: %v", err)
		return heuristicDetection(text)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return heuristicDetection(text)
	}

	payload, err := parseClassifierOutput(msg.Content)
	if err != nil {
		log.Printf("[classifier] output parse failed, use heuristic: %v", err)
		return heuristicDetection(text)
	}

	label, ok := analysis.ParseLabel(payload.Emotion)
	if !ok {
		return heuristicDetection(text)
	}
	if label == analysis.Neutral {
		return mood.Detection{Label: analysis.Neutral, Source: mood.SourceTextClassifier}, false
	}

	confidence := clampConfidence(payload.Confidence)
	return mood.Detection{
		Label:      label,
		Confidence: &confidence,
		Source:     mood.SourceTextClassifier,
	}, true
}

func heuristicDetection(text string) (mood.Detection, bool) {
	label, ok := analysis.Match(text)
	if !ok {
		return mood.Detection{Label: analysis.Neutral, Source: mood.SourceTextHeuristic}, false
	}
	return mood.Detection{Label: label, Source: mood.SourceTextHeuristic}, true
}

// parseClassifierOutput 解析大模型返回的 JSON，容忍前后多余文本。
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func formatHistory(messages []chat.Message, limit int) string {
	if len(messages) == 0 {
		return "(no history)"
	}
	if limit < 1 {
		limit = 1
	}
	start := len(messages) - limit
	if start < 0 {
		start = 0
	}

	var builder strings.Builder
	for i := start; i < len(messages); i++ {
		msg := messages[i]
		if msg.Kind != chat.KindText {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		role := "User"
		if msg.Sender == chat.SenderAssistant {
			role = "Buddy"
		}
		builder.WriteString(role)
		builder.WriteString(": ")
		builder.WriteString(content)
	}
	if builder.Len() == 0 {
		return "(no history)"
	}
	return builder.String()
}

func clampConfidence(val float64) float64 {
	if val <= 0 {
		return 0.6
	}
	if val > 1 {
		return 1
	}
	return val
}

type classifierPayload struct {
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

const classifierSystemPrompt = "You read a user's latest chat message to a wellbeing companion and decide which emotion it expresses.\nReturn exactly one JSON object with fields: emotion (one of happy/sad/angry/stress/neutral/fear/surprised/disgust), confidence (0~1), reason (one short sentence). Use neutral when there is no clear emotional signal. Output nothing else."

const classifierUserPrompt = "Recent conversation:\n{history}\n\nLatest user message:\n{user_message}\n\nAnswer with the JSON object."
