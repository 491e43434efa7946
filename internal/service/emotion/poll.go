package emotion

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/soulbuddy/companion/internal/model/mood"
	"github.com/zhouzirui/soulbuddy/companion/internal/service/backend"
)

// StatusFetcher 查询后台任务状态。
type StatusFetcher interface {
	PhotoTaskStatus(ctx context.Context, taskID string) (backend.TaskStatus, error)
}

// PollConfig 控制后台任务轮询节奏。
type PollConfig struct {
	InitialDelay time.Duration
	Interval     time.Duration
	Window       time.Duration
}

// DefaultPollConfig 返回默认轮询参数：1s 后首次查询，每 1.5s 一次，最多 25s。
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialDelay: time.Second,
		Interval:     1500 * time.Millisecond,
		Window:       25 * time.Second,
	}
}

// Poller 为排队的任务启动可取消的定时查询。
type Poller struct {
	api StatusFetcher
	cfg PollConfig
}

// NewPoller 创建轮询器，未设置的参数使用默认值。
func NewPoller(api StatusFetcher, cfg PollConfig) *Poller {
	defaults := DefaultPollConfig()
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = defaults.InitialDelay
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	return &Poller{api: api, cfg: cfg}
}

// TaskFuture 是一次轮询的单次结果。
type TaskFuture struct {
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc

	mu        sync.Mutex
	task      mood.BackgroundTask
	detection mood.Detection
	err       error
}

// Start 在后台开始轮询 taskID，返回的 future 只会被解析一次。
func (p *Poller) Start(ctx context.Context, taskID string) *TaskFuture {
	runCtx, cancel := context.WithCancel(ctx)
	future := &TaskFuture{
		done:   make(chan struct{}),
		cancel: cancel,
		task:   mood.BackgroundTask{TaskID: taskID, Status: mood.TaskProcessing},
	}
	go p.run(runCtx, future)
	return future
}

// Wait 阻塞直到任务解析或 ctx 结束。
func (f *TaskFuture) Wait(ctx context.Context) (mood.Detection, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.detection, f.err
	case <-ctx.Done():
		return mood.Detection{}, ctx.Err()
	}
}

// Cancel 停止轮询；已解析的 future 不受影响。
func (f *TaskFuture) Cancel() {
	f.cancel()
}

// Done 在 future 解析后关闭。
func (f *TaskFuture) Done() <-chan struct{} {
	return f.done
}

// Task 返回最近一次观察到的任务状态。
func (f *TaskFuture) Task() mood.BackgroundTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.task
}

func (f *TaskFuture) observe(status mood.TaskStatus, result *mood.Detection) {
	f.mu.Lock()
	f.task.Status = status
	f.task.Result = result
	f.mu.Unlock()
}

func (f *TaskFuture) resolve(detection mood.Detection, err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.detection = detection
		f.err = err
		f.mu.Unlock()
		close(f.done)
		f.cancel()
	})
}

func (p *Poller) run(ctx context.Context, f *TaskFuture) {
	taskID := f.task.TaskID
	windowCtx, cancel := context.WithTimeout(ctx, p.cfg.Window)
	defer cancel()

	wait := p.cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(wait)
		select {
		case <-windowCtx.Done():
			timer.Stop()
			if err := ctx.Err(); err != nil {
				f.resolve(mood.Detection{}, err)
				return
			}
			log.Printf("[poll] task %s unresolved after %s", taskID, p.cfg.Window)
			f.resolve(mood.Detection{}, fmt.Errorf("%w: task %s", ErrAnalysisTimeout, taskID))
			return
		case <-timer.C:
		}
		wait = p.cfg.Interval

		status, err := p.api.PhotoTaskStatus(windowCtx, taskID)
		if err != nil {
			if windowCtx.Err() == nil {
				log.Printf("[poll] task %s attempt %d failed: %v", taskID, attempt, err)
			}
			continue
		}

		switch mood.TaskStatus(strings.ToLower(strings.TrimSpace(status.Status))) {
		case mood.TaskDone:
			var result backend.AnalyzeResult
			if status.Result != nil {
				result = *status.Result
			}
			detection, ok := detectionFromResult(result, mood.SourcePhotoBackground)
			if !ok {
				f.observe(mood.TaskDone, nil)
				f.resolve(mood.Detection{}, fmt.Errorf("%w: task %s finished without label", ErrNoUsableResult, taskID))
				return
			}
			f.observe(mood.TaskDone, &detection)
			f.resolve(detection, nil)
			return
		case mood.TaskError:
			f.observe(mood.TaskError, nil)
			reason := strings.TrimSpace(status.Error)
			if reason == "" {
				reason = "no detail"
			}
			f.resolve(mood.Detection{}, fmt.Errorf("%w: task %s: %s", ErrTaskFailed, taskID, reason))
			return
		default:
			f.observe(mood.TaskProcessing, nil)
		}
	}
}
