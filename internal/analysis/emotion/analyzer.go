package emotion

import (
	"regexp"
	"strings"
)

// Label 表示情绪记录使用的标准标签。
type Label string

const (
	Happy     Label = "Happy"
	Sad       Label = "Sad"
	Angry     Label = "Angry"
	Stress    Label = "Stress"
	Neutral   Label = "Neutral"
	Fear      Label = "Fear"
	Surprised Label = "Surprised"
	Disgust   Label = "Disgust"
)

// Labels 按固定顺序列出全部已知标签。
var Labels = []Label{Happy, Sad, Angry, Stress, Neutral, Fear, Surprised, Disgust}

type bucket struct {
	label   Label
	pattern *regexp.Regexp
}

// keywordBuckets 的顺序即优先级：happy > sad > angry > stress。
var keywordBuckets = []bucket{
	{label: Happy, pattern: wordPattern("happy", "great", "wonderful", "amazing", "excited", "joyful", "glad")},
	{label: Sad, pattern: wordPattern("sad", "sorry", "unfortunate", "depressed", "unhappy", "down")},
	{label: Angry, pattern: wordPattern("angry", "frustrated", "mad", "annoyed", "furious")},
	{label: Stress, pattern: wordPattern("stress", "anxious", "worried", "nervous", "tense", "overwhelmed")},
}

func wordPattern(words ...string) *regexp.Regexp {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	return regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`)
}

// Detect 根据关键词推断文本情绪，没有命中时返回 Neutral。
func Detect(text string) Label {
	label, ok := Match(text)
	if !ok {
		return Neutral
	}
	return label
}

// Match 与 Detect 相同，但用 ok=false 区分"没有信号"与明确的情绪。
func Match(text string) (Label, bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return "", false
	}

	for _, b := range keywordBuckets {
		if b.pattern.MatchString(normalized) {
			return b.label, true
		}
	}
	return "", false
}

var labelAliases = map[string]Label{
	"happy":     Happy,
	"sad":       Sad,
	"angry":     Angry,
	"stress":    Stress,
	"stressed":  Stress,
	"neutral":   Neutral,
	"fear":      Fear,
	"fearful":   Fear,
	"surprised": Surprised,
	"surprise":  Surprised,
	"disgust":   Disgust,
	"disgusted": Disgust,
}

// ParseLabel 将服务端返回的标签（大小写不敏感）规范化为已知标签。
func ParseLabel(raw string) (Label, bool) {
	label, ok := labelAliases[strings.ToLower(strings.TrimSpace(raw))]
	return label, ok
}

// Canonical 返回规范化后的标签；未知标签原样保留（去除首尾空白）。
func Canonical(raw string) Label {
	if label, ok := ParseLabel(raw); ok {
		return label
	}
	return Label(strings.TrimSpace(raw))
}

// Known 报告标签是否属于固定枚举。
func (l Label) Known() bool {
	_, ok := ParseLabel(string(l))
	return ok
}
