package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	analysis "github.com/zhouzirui/soulbuddy/companion/internal/analysis/emotion"
	"github.com/zhouzirui/soulbuddy/companion/internal/model/chat"
	"github.com/zhouzirui/soulbuddy/companion/internal/model/mood"
	"github.com/zhouzirui/soulbuddy/companion/internal/service/backend"
	chatservice "github.com/zhouzirui/soulbuddy/companion/internal/service/chat"
	"github.com/zhouzirui/soulbuddy/companion/internal/service/emotion"
	"github.com/zhouzirui/soulbuddy/companion/internal/storage"
)

type stubChat struct {
	reply    string
	resetErr error
	block    chan struct{}
}

func (s *stubChat) Chat(ctx context.Context, _ backend.ChatRequest) (string, error) {
	if s.block != nil {
		<-s.block
	}
	return s.reply, nil
}

func (s *stubChat) ResetChat(context.Context) error { return s.resetErr }

type stubPhotos struct{}

func (stubPhotos) AnalyzePhoto(context.Context, emotion.PhotoRequest) (mood.Detection, error) {
	return mood.Detection{Label: analysis.Happy, Source: mood.SourcePhotoDirect}, nil
}

type stubMoods struct{}

func (stubMoods) SaveIfNeeded(context.Context, mood.Detection, string) {}

func setupRouter(t *testing.T, chatAPI *stubChat) (*chi.Mux, *chatservice.Orchestrator) {
	t.Helper()
	orch := chatservice.NewOrchestrator(chatservice.Deps{
		Chat:   chatAPI,
		Photos: stubPhotos{},
		Moods:  stubMoods{},
		Log:    chatservice.NewLogStore(storage.NewMemory(), 10*time.Millisecond),
	}, chatservice.Config{})
	t.Cleanup(func() { orch.Close(context.Background()) })

	r := chi.NewRouter()
	New(orch).RegisterRoutes(r)
	return r, orch
}

func multipartPhoto(t *testing.T, fileName, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="`+fileName+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write(data)
	_ = writer.WriteField("ref", "file:///photos/"+fileName)
	_ = writer.Close()
	return &buf, writer.FormDataContentType()
}

func TestListMessagesSeedsWelcome(t *testing.T) {
	r, _ := setupRouter(t, &stubChat{reply: "hi"})

	req := httptest.NewRequest(http.MethodGet, "/conversations/c1/messages", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Messages) != 1 || body.Messages[0].Content != chatservice.WelcomeMessage {
		t.Fatalf("unexpected messages %+v", body.Messages)
	}
}

func TestSendMessage(t *testing.T) {
	r, _ := setupRouter(t, &stubChat{reply: "Great to hear!"})

	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", strings.NewReader(`{"text":"I'm so happy today!"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var turn chatservice.Turn
	if err := json.NewDecoder(resp.Body).Decode(&turn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if turn.Reply.Content != "Great to hear!" || turn.Detection == nil || turn.Detection.Label != analysis.Happy {
		t.Fatalf("unexpected turn %+v", turn)
	}
}

func TestSendMessageValidation(t *testing.T) {
	r, _ := setupRouter(t, &stubChat{reply: "hi"})

	for _, body := range []string{`{"text":"   "}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", strings.NewReader(body))
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, resp.Code)
		}
	}
}

func TestSendMessageWhileBusy(t *testing.T) {
	stub := &stubChat{reply: "hi", block: make(chan struct{})}
	r, orch := setupRouter(t, stub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", strings.NewReader(`{"text":"first"}`))
		r.ServeHTTP(httptest.NewRecorder(), req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for orch.State("c1") != chat.StateAwaitingReply {
		if time.Now().After(deadline) {
			t.Fatal("first turn never started")
		}
		time.Sleep(time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", strings.NewReader(`{"text":"second"}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}

	close(stub.block)
	<-done
}

func TestSendPhoto(t *testing.T) {
	r, _ := setupRouter(t, &stubChat{reply: "Looking good!"})

	body, contentType := multipartPhoto(t, "selfie.jpg", "image/jpeg", []byte("\xff\xd8\xff\xe0jpeg"))
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/photos", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var turn chatservice.Turn
	if err := json.NewDecoder(resp.Body).Decode(&turn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if turn.User == nil || turn.User.Content != "file:///photos/selfie.jpg" || turn.Reply.Content != "Looking good!" {
		t.Fatalf("unexpected turn %+v", turn)
	}
}

func TestSendPhotoRejectsNonImage(t *testing.T) {
	r, _ := setupRouter(t, &stubChat{reply: "hi"})

	body, contentType := multipartPhoto(t, "notes.txt", "text/plain", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/photos", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}
}

func TestSendPhotoMissingFile(t *testing.T) {
	r, _ := setupRouter(t, &stubChat{reply: "hi"})

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	_ = writer.WriteField("ref", "nothing")
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/photos", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestResetFailureIsBadGateway(t *testing.T) {
	r, _ := setupRouter(t, &stubChat{reply: "hi", resetErr: context.DeadlineExceeded})

	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/reset", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
}

func TestStateEndpoint(t *testing.T) {
	r, _ := setupRouter(t, &stubChat{reply: "hi"})

	req := httptest.NewRequest(http.MethodGet, "/conversations/c9/state", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"state":"idle"`) {
		t.Fatalf("unexpected response %d %s", resp.Code, resp.Body.String())
	}
}
