package backend

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
)

// AnalyzeResult is the body returned by both photo analysis endpoints.
type AnalyzeResult struct {
	Emotion      string   `json:"emotion,omitempty"`
	EmotionScore *float64 `json:"emotion_score,omitempty"`
	Status       string   `json:"status,omitempty"`
	Saved        bool     `json:"saved,omitempty"`
	BotReply     string   `json:"bot_reply,omitempty"`
	TaskID       string   `json:"task_id,omitempty"`
}

// TaskStatus is the body of GET /analyze-photo-emotion/status/{taskId}.
type TaskStatus struct {
	Status string         `json:"status"`
	Result *AnalyzeResult `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// PhotoUpload describes the raw image for the multipart endpoint.
type PhotoUpload struct {
	Data     []byte
	FileName string
	MIMEType string
}

// AnalyzeEmotion posts a data-URI encoded image to the direct endpoint.
func (c *Client) AnalyzeEmotion(ctx context.Context, dataURI string) (AnalyzeResult, error) {
	var result AnalyzeResult
	_, err := c.postJSON(ctx, "analyze emotion", c.cfg.ChatBaseURL+"/analyze-emotion", c.cfg.PhotoTimeout, false,
		map[string]string{"image": dataURI}, &result)
	return result, err
}

// AnalyzePhoto uploads the image as multipart form data and asks for
// background processing. It returns the HTTP status so callers can detect 202.
func (c *Client) AnalyzePhoto(ctx context.Context, upload PhotoUpload) (int, AnalyzeResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileName := upload.FileName
	if fileName == "" {
		fileName = "photo.jpg"
	}
	mimeType := upload.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, filepath.Base(fileName)))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return 0, AnalyzeResult{}, fmt.Errorf("analyze photo: create file part: %w", err)
	}
	if _, err := part.Write(upload.Data); err != nil {
		return 0, AnalyzeResult{}, fmt.Errorf("analyze photo: write file part: %w", err)
	}

	userID := c.cfg.UserID
	if userID == "" {
		userID = "1"
	}
	if err := writer.WriteField("user_id", userID); err != nil {
		return 0, AnalyzeResult{}, fmt.Errorf("analyze photo: write user_id: %w", err)
	}
	if err := writer.WriteField("background", "true"); err != nil {
		return 0, AnalyzeResult{}, fmt.Errorf("analyze photo: write background: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, AnalyzeResult{}, fmt.Errorf("analyze photo: close form: %w", err)
	}

	var result AnalyzeResult
	status, err := c.do(ctx, call{
		op:          "analyze photo",
		method:      http.MethodPost,
		url:         c.cfg.ChatBaseURL + "/analyze-photo-emotion",
		timeout:     c.cfg.PhotoTimeout,
		body:        &buf,
		contentType: writer.FormDataContentType(),
	}, &result)
	return status, result, err
}

// PhotoTaskStatus polls a queued analysis task.
func (c *Client) PhotoTaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	var status TaskStatus
	endpoint := c.cfg.ChatBaseURL + "/analyze-photo-emotion/status/" + url.PathEscape(taskID)
	err := c.getJSON(ctx, "photo task status", endpoint, c.cfg.ChatTimeout, false, &status)
	return status, err
}
