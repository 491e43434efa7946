package emotion

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	analysis "github.com/zhouzirui/soulbuddy/companion/internal/analysis/emotion"
	"github.com/zhouzirui/soulbuddy/companion/internal/model/mood"
	"github.com/zhouzirui/soulbuddy/companion/internal/service/backend"
)

var (
	// ErrNoUsableResult 表示级联中没有任何阶段返回可用的情绪标签。
	ErrNoUsableResult = errors.New("emotion: no usable analysis result")
	// ErrTaskFailed 表示后台任务以 error 状态结束。
	ErrTaskFailed = errors.New("emotion: background analysis failed")
	// ErrAnalysisTimeout 表示轮询窗口结束时任务仍未完成。
	ErrAnalysisTimeout = errors.New("emotion: background analysis timed out")
)

const statusDecodeError = "fallback_decode_error"

// PhotoAnalyzer 抽象了级联所需的三个远端接口，*backend.Client 即为实现。
type PhotoAnalyzer interface {
	AnalyzeEmotion(ctx context.Context, dataURI string) (backend.AnalyzeResult, error)
	AnalyzePhoto(ctx context.Context, upload backend.PhotoUpload) (int, backend.AnalyzeResult, error)
	StatusFetcher
}

// Outcome 是单个阶段的标记结果。
type Outcome int

const (
	OutcomeNext Outcome = iota
	OutcomeUsable
	OutcomeQueued
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUsable:
		return "usable"
	case OutcomeQueued:
		return "queued"
	case OutcomeFatal:
		return "fatal"
	default:
		return "next"
	}
}

// StageResult 是阶段尝试的返回值。
type StageResult struct {
	Outcome   Outcome
	Detection mood.Detection
	TaskID    string
	Err       error
}

// StageEvent 通知调用方级联的进展。
type StageEvent struct {
	Stage   string
	Outcome Outcome
	TaskID  string
}

// PhotoRequest 描述一次照片情绪分析。
type PhotoRequest struct {
	Data     []byte
	MIMEType string
	FileName string
	// OnStage 可选，在每个阶段结束时调用。
	OnStage func(StageEvent)
}

// Stage 是级联中的一个尝试策略。
type Stage interface {
	Name() string
	Attempt(ctx context.Context, req PhotoRequest) StageResult
}

// Client 依次尝试各阶段，排队结果交给轮询器。
type Client struct {
	stages []Stage
	poller *Poller
}

// NewClient 使用默认的 direct -> multipart 级联。
func NewClient(api PhotoAnalyzer, pollCfg PollConfig) *Client {
	return NewClientWithStages(NewPoller(api, pollCfg), DirectStage{API: api}, MultipartStage{API: api})
}

// NewClientWithStages 使用自定义阶段列表创建级联。
func NewClientWithStages(poller *Poller, stages ...Stage) *Client {
	return &Client{stages: stages, poller: poller}
}

// AnalyzePhoto 运行级联，总是在有限时间内返回可用结果或错误。
func (c *Client) AnalyzePhoto(ctx context.Context, req PhotoRequest) (mood.Detection, error) {
	if len(req.Data) == 0 {
		return mood.Detection{}, fmt.Errorf("%w: empty image", ErrNoUsableResult)
	}

	var lastErr error
	for _, stage := range c.stages {
		result := stage.Attempt(ctx, req)
		if req.OnStage != nil {
			req.OnStage(StageEvent{Stage: stage.Name(), Outcome: result.Outcome, TaskID: result.TaskID})
		}

		switch result.Outcome {
		case OutcomeUsable:
			return result.Detection, nil
		case OutcomeQueued:
			if c.poller == nil {
				return mood.Detection{}, fmt.Errorf("%w: task %s queued without poller", ErrNoUsableResult, result.TaskID)
			}
			future := c.poller.Start(ctx, result.TaskID)
			detection, err := future.Wait(ctx)
			if err != nil {
				future.Cancel()
				return mood.Detection{}, err
			}
			return detection, nil
		case OutcomeFatal:
			return mood.Detection{}, result.Err
		default:
			log.Printf("[cascade] %s stage unusable, trying next: %v", stage.Name(), result.Err)
			lastErr = result.Err
		}
	}

	if lastErr != nil {
		return mood.Detection{}, fmt.Errorf("%w: %w", ErrNoUsableResult, lastErr)
	}
	return mood.Detection{}, ErrNoUsableResult
}

// DirectStage 以 data URI 调用主分析接口。
type DirectStage struct {
	API PhotoAnalyzer
}

func (DirectStage) Name() string { return "direct" }

func (s DirectStage) Attempt(ctx context.Context, req PhotoRequest) StageResult {
	result, err := s.API.AnalyzeEmotion(ctx, DataURI(req.Data, req.MIMEType))
	if err != nil {
		return StageResult{Outcome: OutcomeNext, Err: err}
	}
	if strings.EqualFold(strings.TrimSpace(result.Status), statusDecodeError) {
		return StageResult{Outcome: OutcomeNext, Err: fmt.Errorf("direct stage reported %s", statusDecodeError)}
	}
	detection, ok := detectionFromResult(result, mood.SourcePhotoDirect)
	if !ok {
		return StageResult{Outcome: OutcomeNext, Err: errors.New("direct stage returned no label")}
	}
	return StageResult{Outcome: OutcomeUsable, Detection: detection}
}

// MultipartStage 以 multipart 上传原图并请求后台处理。
type MultipartStage struct {
	API PhotoAnalyzer
}

func (MultipartStage) Name() string { return "multipart" }

func (s MultipartStage) Attempt(ctx context.Context, req PhotoRequest) StageResult {
	status, result, err := s.API.AnalyzePhoto(ctx, backend.PhotoUpload{
		Data:     req.Data,
		FileName: req.FileName,
		MIMEType: req.MIMEType,
	})
	if err != nil {
		return StageResult{Outcome: OutcomeFatal, Err: fmt.Errorf("%w: multipart stage: %w", ErrNoUsableResult, err)}
	}
	if detection, ok := detectionFromResult(result, mood.SourcePhotoFallback); ok {
		return StageResult{Outcome: OutcomeUsable, Detection: detection}
	}

	taskID := strings.TrimSpace(result.TaskID)
	queued := status == http.StatusAccepted || strings.EqualFold(result.Status, string(mood.TaskProcessing))
	if queued && taskID != "" {
		return StageResult{Outcome: OutcomeQueued, TaskID: taskID}
	}
	return StageResult{Outcome: OutcomeFatal, Err: fmt.Errorf("%w: multipart stage returned status %d without label or task", ErrNoUsableResult, status)}
}

func detectionFromResult(result backend.AnalyzeResult, source mood.Source) (mood.Detection, bool) {
	raw := strings.TrimSpace(result.Emotion)
	if raw == "" {
		return mood.Detection{}, false
	}
	return mood.Detection{
		Label:      analysis.Canonical(raw),
		Confidence: result.EmotionScore,
		Source:     source,
		Saved:      result.Saved,
		BotReply:   strings.TrimSpace(result.BotReply),
	}, true
}

// DataURI 将图片编码为 data URI；未给出 MIME 时按内容嗅探。
func DataURI(data []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
