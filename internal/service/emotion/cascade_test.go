package emotion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	analysis "github.com/zhouzirui/soulbuddy/companion/internal/analysis/emotion"
	"github.com/zhouzirui/soulbuddy/companion/internal/model/mood"
	"github.com/zhouzirui/soulbuddy/companion/internal/service/backend"
)

type fakeAnalyzer struct {
	mu sync.Mutex

	direct      func() (backend.AnalyzeResult, error)
	multipart   func() (int, backend.AnalyzeResult, error)
	statuses    []backend.TaskStatus
	statusErr   error
	directCalls int
	multiCalls  int
	pollCalls   int
	lastDataURI string
}

func (f *fakeAnalyzer) AnalyzeEmotion(_ context.Context, dataURI string) (backend.AnalyzeResult, error) {
	f.mu.Lock()
	f.directCalls++
	f.lastDataURI = dataURI
	f.mu.Unlock()
	if f.direct == nil {
		return backend.AnalyzeResult{}, errors.New("direct unavailable")
	}
	return f.direct()
}

func (f *fakeAnalyzer) AnalyzePhoto(context.Context, backend.PhotoUpload) (int, backend.AnalyzeResult, error) {
	f.mu.Lock()
	f.multiCalls++
	f.mu.Unlock()
	if f.multipart == nil {
		return 0, backend.AnalyzeResult{}, errors.New("multipart unavailable")
	}
	return f.multipart()
}

func (f *fakeAnalyzer) PhotoTaskStatus(context.Context, string) (backend.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	if f.statusErr != nil {
		return backend.TaskStatus{}, f.statusErr
	}
	if len(f.statuses) == 0 {
		return backend.TaskStatus{Status: "processing"}, nil
	}
	next := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return next, nil
}

func (f *fakeAnalyzer) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.directCalls, f.multiCalls, f.pollCalls
}

func fastPoll() PollConfig {
	return PollConfig{InitialDelay: 5 * time.Millisecond, Interval: 5 * time.Millisecond, Window: 500 * time.Millisecond}
}

func score(v float64) *float64 { return &v }

var photo = PhotoRequest{Data: []byte("\xff\xd8\xff\xe0fake-jpeg"), MIMEType: "image/jpeg", FileName: "selfie.jpg"}

func TestDirectPhotoSuccessSkipsMultipart(t *testing.T) {
	api := &fakeAnalyzer{
		direct: func() (backend.AnalyzeResult, error) {
			return backend.AnalyzeResult{Emotion: "Sad", EmotionScore: score(0.7)}, nil
		},
	}

	detection, err := NewClient(api, fastPoll()).AnalyzePhoto(context.Background(), photo)
	if err != nil {
		t.Fatalf("AnalyzePhoto: %v", err)
	}
	if detection.Label != analysis.Sad || detection.Source != mood.SourcePhotoDirect {
		t.Fatalf("unexpected detection %+v", detection)
	}
	if detection.ConfidenceOr(0) != 0.7 {
		t.Fatalf("unexpected confidence %v", detection.Confidence)
	}
	if _, multi, _ := api.counts(); multi != 0 {
		t.Fatalf("expected no multipart call, got %d", multi)
	}
	if !strings.HasPrefix(api.lastDataURI, "data:image/jpeg;base64,") {
		t.Fatalf("unexpected data uri prefix %q", api.lastDataURI)
	}
}

func TestDirectNeutralIsFinal(t *testing.T) {
	api := &fakeAnalyzer{
		direct: func() (backend.AnalyzeResult, error) {
			return backend.AnalyzeResult{Emotion: "neutral", EmotionScore: score(0.2)}, nil
		},
	}

	detection, err := NewClient(api, fastPoll()).AnalyzePhoto(context.Background(), photo)
	if err != nil {
		t.Fatalf("AnalyzePhoto: %v", err)
	}
	if detection.Label != analysis.Neutral {
		t.Fatalf("expected Neutral, got %s", detection.Label)
	}
	if _, multi, _ := api.counts(); multi != 0 {
		t.Fatalf("low-confidence label must not fall back, got %d multipart calls", multi)
	}
}

func TestFullFallbackPath(t *testing.T) {
	api := &fakeAnalyzer{
		direct: func() (backend.AnalyzeResult, error) {
			return backend.AnalyzeResult{Status: "fallback_decode_error"}, nil
		},
		multipart: func() (int, backend.AnalyzeResult, error) {
			return http.StatusAccepted, backend.AnalyzeResult{Status: "processing", TaskID: "T1"}, nil
		},
		statuses: []backend.TaskStatus{
			{Status: "processing"},
			{Status: "processing"},
			{Status: "done", Result: &backend.AnalyzeResult{Emotion: "Angry"}},
		},
	}

	var events []StageEvent
	req := photo
	req.OnStage = func(ev StageEvent) { events = append(events, ev) }

	detection, err := NewClient(api, fastPoll()).AnalyzePhoto(context.Background(), req)
	if err != nil {
		t.Fatalf("AnalyzePhoto: %v", err)
	}
	if detection.Label != analysis.Angry || detection.Source != mood.SourcePhotoBackground {
		t.Fatalf("unexpected detection %+v", detection)
	}
	if _, _, polls := api.counts(); polls != 3 {
		t.Fatalf("expected 3 polls, got %d", polls)
	}
	if len(events) != 2 || events[0].Outcome != OutcomeNext || events[1].Outcome != OutcomeQueued || events[1].TaskID != "T1" {
		t.Fatalf("unexpected stage events %+v", events)
	}
}

func TestMultipartSynchronousResult(t *testing.T) {
	api := &fakeAnalyzer{
		multipart: func() (int, backend.AnalyzeResult, error) {
			return http.StatusOK, backend.AnalyzeResult{Emotion: "happy", Saved: true, BotReply: "Lovely smile!"}, nil
		},
	}

	detection, err := NewClient(api, fastPoll()).AnalyzePhoto(context.Background(), photo)
	if err != nil {
		t.Fatalf("AnalyzePhoto: %v", err)
	}
	if detection.Label != analysis.Happy || detection.Source != mood.SourcePhotoFallback {
		t.Fatalf("unexpected detection %+v", detection)
	}
	if !detection.Saved || detection.BotReply != "Lovely smile!" {
		t.Fatalf("expected saved flag and bot reply, got %+v", detection)
	}
	if _, _, polls := api.counts(); polls != 0 {
		t.Fatalf("expected no polls, got %d", polls)
	}
}

func TestMultipartWithoutTaskIsFatal(t *testing.T) {
	api := &fakeAnalyzer{
		multipart: func() (int, backend.AnalyzeResult, error) {
			return http.StatusOK, backend.AnalyzeResult{Status: "ok"}, nil
		},
	}

	_, err := NewClient(api, fastPoll()).AnalyzePhoto(context.Background(), photo)
	if !errors.Is(err, ErrNoUsableResult) {
		t.Fatalf("expected ErrNoUsableResult, got %v", err)
	}
}

func TestTaskErrorIsTerminal(t *testing.T) {
	api := &fakeAnalyzer{
		multipart: func() (int, backend.AnalyzeResult, error) {
			return http.StatusAccepted, backend.AnalyzeResult{TaskID: "T9"}, nil
		},
		statuses: []backend.TaskStatus{{Status: "error", Error: "model crashed"}},
	}

	_, err := NewClient(api, fastPoll()).AnalyzePhoto(context.Background(), photo)
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("expected ErrTaskFailed, got %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, _, polls := api.counts(); polls != 1 {
		t.Fatalf("expected polling to stop after error, got %d polls", polls)
	}
}

func TestPollingTimeoutStopsPolling(t *testing.T) {
	api := &fakeAnalyzer{
		multipart: func() (int, backend.AnalyzeResult, error) {
			return http.StatusAccepted, backend.AnalyzeResult{Status: "processing", TaskID: "T1"}, nil
		},
	}
	cfg := PollConfig{InitialDelay: 5 * time.Millisecond, Interval: 10 * time.Millisecond, Window: 80 * time.Millisecond}

	start := time.Now()
	_, err := NewClient(api, cfg).AnalyzePhoto(context.Background(), photo)
	if !errors.Is(err, ErrAnalysisTimeout) {
		t.Fatalf("expected ErrAnalysisTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("cascade did not terminate promptly: %v", elapsed)
	}

	_, _, polls := api.counts()
	if polls == 0 {
		t.Fatal("expected at least one poll inside the window")
	}
	time.Sleep(60 * time.Millisecond)
	if _, _, after := api.counts(); after != polls {
		t.Fatalf("polls continued after timeout: %d -> %d", polls, after)
	}
}

func TestTransientPollErrorsAreTolerated(t *testing.T) {
	api := &fakeAnalyzer{statusErr: errors.New("connection reset")}
	poller := NewPoller(api, fastPoll())

	future := poller.Start(context.Background(), "T2")
	time.Sleep(30 * time.Millisecond)
	select {
	case <-future.Done():
		t.Fatal("future resolved on a transient error")
	default:
	}

	api.mu.Lock()
	api.statusErr = nil
	api.statuses = []backend.TaskStatus{{Status: "done", Result: &backend.AnalyzeResult{Emotion: "Fear"}}}
	api.mu.Unlock()

	detection, err := future.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if detection.Label != analysis.Fear {
		t.Fatalf("unexpected label %s", detection.Label)
	}
	if task := future.Task(); task.Status != mood.TaskDone || task.Result == nil {
		t.Fatalf("unexpected task snapshot %+v", task)
	}
}

func TestCancelStopsPolling(t *testing.T) {
	api := &fakeAnalyzer{}
	future := NewPoller(api, fastPoll()).Start(context.Background(), "T3")
	time.Sleep(20 * time.Millisecond)
	future.Cancel()

	if _, err := future.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	_, _, polls := api.counts()
	time.Sleep(30 * time.Millisecond)
	if _, _, after := api.counts(); after != polls {
		t.Fatalf("polls continued after cancel: %d -> %d", polls, after)
	}
}

func TestCascadeAgainstHTTPBackend(t *testing.T) {
	var polls atomic.Int32
	router := chi.NewRouter()
	router.Post("/api/v1/analyze-emotion", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !strings.HasPrefix(body["image"], "data:image/jpeg;base64,") {
			t.Errorf("unexpected image payload %q", body["image"])
		}
		http.Error(w, "decoder crashed", http.StatusInternalServerError)
	})
	router.Post("/api/v1/analyze-photo-emotion", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"status":"processing","task_id":"T1"}`)
	})
	router.Get("/api/v1/analyze-photo-emotion/status/{taskID}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "taskID") != "T1" {
			t.Errorf("unexpected task id %s", chi.URLParam(r, "taskID"))
		}
		if polls.Add(1) < 3 {
			_, _ = io.WriteString(w, `{"status":"processing"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"done","result":{"emotion":"Angry","emotion_score":0.9,"saved":true}}`)
	})

	server := httptest.NewServer(router)
	defer server.Close()

	api := backend.New(backend.Config{ChatBaseURL: server.URL + "/api/v1", UserID: "1"}, server.Client())
	detection, err := NewClient(api, fastPoll()).AnalyzePhoto(context.Background(), photo)
	if err != nil {
		t.Fatalf("AnalyzePhoto: %v", err)
	}
	if detection.Label != analysis.Angry || detection.Source != mood.SourcePhotoBackground || !detection.Saved {
		t.Fatalf("unexpected detection %+v", detection)
	}
}

func TestDataURISniffsMissingMIME(t *testing.T) {
	uri := DataURI([]byte("\x89PNG\r\n\x1a\n0000"), "")
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Fatalf("unexpected uri %q", uri)
	}
}
