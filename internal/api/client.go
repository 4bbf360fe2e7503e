// Package api is the REST client for the chat server: room listing and
// creation, message history, and media uploads. The real-time traffic
// goes over the session package; this package covers everything else.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mwhitfield/rtchat/internal/protocol"
)

// Client talks to the chat server REST API.
type Client struct {
	BaseURL string
	Token   string
	client  *http.Client
}

// New creates a client for the given server base URL. The token, if any,
// is sent as a bearer Authorization header on every request.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) url(path string) string {
	return c.BaseURL + path
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func decodeOK(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// RoomMessages fetches the persisted history of a room, oldest first.
// This satisfies the session's history fetcher.
func (c *Client) RoomMessages(ctx context.Context, roomID string) ([]protocol.Message, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/chat/rooms/%s/messages", roomID), nil, "")
	if err != nil {
		return nil, err
	}
	var list struct {
		Messages []protocol.Message `json:"messages"`
	}
	if err := decodeOK(resp, &list); err != nil {
		return nil, err
	}
	return list.Messages, nil
}

// SendMessage posts a message over REST, bypassing the real-time session.
// The server persists it and broadcasts it to connected clients. Useful
// for one-shot senders that do not hold a connection open.
func (c *Client) SendMessage(ctx context.Context, roomID, content string) (*protocol.Message, error) {
	body, err := json.Marshal(map[string]string{
		"room_id": roomID,
		"content": content,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/chat/messages", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}
	var msg protocol.Message
	if err := decodeOK(resp, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Rooms lists the rooms the user created or joined.
func (c *Client) Rooms(ctx context.Context) ([]protocol.Room, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/chat/rooms", nil, "")
	if err != nil {
		return nil, err
	}
	var list struct {
		Rooms []protocol.Room `json:"rooms"`
	}
	if err := decodeOK(resp, &list); err != nil {
		return nil, err
	}
	return list.Rooms, nil
}

// CreateRoom creates a room. password may be empty for an open room.
func (c *Client) CreateRoom(ctx context.Context, name, description, password string) (*protocol.Room, error) {
	body, err := json.Marshal(map[string]string{
		"name":        name,
		"description": description,
		"password":    password,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/chat/rooms", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}
	var room protocol.Room
	if err := decodeOK(resp, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// JoinByCode joins a room by its short invite code.
func (c *Client) JoinByCode(ctx context.Context, roomCode, password string) (*protocol.Room, error) {
	req := map[string]string{"room_code": strings.ToUpper(strings.TrimSpace(roomCode))}
	if password != "" {
		req["password"] = password
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/chat/rooms/join-by-code", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}
	var out struct {
		Success bool           `json:"success"`
		Message string         `json:"message"`
		Room    *protocol.Room `json:"room"`
	}
	if err := decodeOK(resp, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.Room == nil {
		return nil, fmt.Errorf("join room: %s", out.Message)
	}
	return out.Room, nil
}

// UploadVoice posts a voice recording for roomID. The server stores the
// audio, broadcasts the voice message itself, and returns the audio URL.
func (c *Client) UploadVoice(ctx context.Context, roomID, filePath string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("room_id", roomID)
	if err := attachFile(w, "audio", filePath); err != nil {
		return "", err
	}
	w.Close()

	resp, err := c.do(ctx, http.MethodPost, "/api/chat/voice", &buf, w.FormDataContentType())
	if err != nil {
		return "", err
	}
	var out struct {
		AudioURL string `json:"audio_url"`
	}
	if err := decodeOK(resp, &out); err != nil {
		return "", err
	}
	return out.AudioURL, nil
}

// UploadImage uploads an image and returns its URL. The caller embeds the
// URL in a message as an image marker.
func (c *Client) UploadImage(ctx context.Context, filePath string) (string, error) {
	var out struct {
		ImageURL string `json:"image_url"`
	}
	if err := c.uploadFile(ctx, "/api/chat/upload", filePath, &out); err != nil {
		return "", err
	}
	return out.ImageURL, nil
}

// UploadVideo uploads a video and returns its URL.
func (c *Client) UploadVideo(ctx context.Context, filePath string) (string, error) {
	var out struct {
		VideoURL string `json:"video_url"`
	}
	if err := c.uploadFile(ctx, "/api/chat/upload-video", filePath, &out); err != nil {
		return "", err
	}
	return out.VideoURL, nil
}

func (c *Client) uploadFile(ctx context.Context, path, filePath string, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := attachFile(w, "file", filePath); err != nil {
		return err
	}
	w.Close()

	resp, err := c.do(ctx, http.MethodPost, path, &buf, w.FormDataContentType())
	if err != nil {
		return err
	}
	return decodeOK(resp, out)
}

func attachFile(w *multipart.Writer, field, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	fw, err := w.CreateFormFile(field, filepath.Base(filePath))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return fmt.Errorf("copy file: %w", err)
	}
	return nil
}
