package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	dialTimeout    = 3 * time.Second
	requestTimeout = 15 * time.Second

	maxAttempts  = 3
	retryBackoff = 300 * time.Millisecond
)

// Client talks to the bridge's local HTTP API. The API base URL includes
// the /api prefix (e.g. http://localhost:8080/api); the health and QR
// endpoints live above it.
type Client struct {
	apiBase string
	root    string
	http    *http.Client
	logger  *zap.Logger

	// convertAudio prepares a file for voice-note delivery. Overridable
	// in tests so they do not need ffmpeg installed.
	convertAudio func(ctx context.Context, path string) (string, error)
}

func NewClient(apiBaseURL string, logger *zap.Logger) *Client {
	apiBase := strings.TrimRight(apiBaseURL, "/")
	return &Client{
		apiBase: apiBase,
		root:    strings.TrimSuffix(apiBase, "/api"),
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: dialTimeout}).DialContext,
			},
		},
		logger:       logger,
		convertAudio: convertToOpusOgg,
	}
}

// QRURL returns the bridge's web QR page, where a user can scan the code
// when console capture is unavailable.
func (c *Client) QRURL() string {
	return c.root + "/qr"
}

// Health reports whether the bridge API answers its health endpoint.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.root+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// AuthStatus asks the bridge whether the WhatsApp session is authenticated
// and whether it is currently offering a QR code.
func (c *Client) AuthStatus(ctx context.Context) (authenticated, hasQR bool, err error) {
	var out struct {
		Authenticated bool `json:"authenticated"`
		HasQRCode     bool `json:"has_qr_code"`
	}
	if err := c.getJSON(ctx, c.apiBase+"/auth-status", &out); err != nil {
		return false, false, err
	}
	return out.Authenticated, out.HasQRCode, nil
}

// sendResponse is the bridge's reply shape for send and download calls.
type sendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

// SendMessage sends a text message through the bridge. The returned string
// is the bridge's human-readable outcome message.
func (c *Client) SendMessage(ctx context.Context, recipient, message string) (bool, string, error) {
	if recipient == "" {
		return false, "", fmt.Errorf("recipient must be provided")
	}
	var out sendResponse
	err := c.postJSON(ctx, c.apiBase+"/send", map[string]string{
		"recipient": recipient,
		"message":   message,
	}, &out)
	if err != nil {
		return false, "", err
	}
	return out.Success, out.Message, nil
}

// SendFile sends a media file through the bridge. The path must be visible
// to the bridge process.
func (c *Client) SendFile(ctx context.Context, recipient, mediaPath string) (bool, string, error) {
	if recipient == "" {
		return false, "", fmt.Errorf("recipient must be provided")
	}
	if mediaPath == "" {
		return false, "", fmt.Errorf("media path must be provided")
	}
	if _, err := os.Stat(mediaPath); err != nil {
		return false, "", fmt.Errorf("media file not found: %s", mediaPath)
	}
	var out sendResponse
	err := c.postJSON(ctx, c.apiBase+"/send", map[string]string{
		"recipient":  recipient,
		"media_path": mediaPath,
	}, &out)
	if err != nil {
		return false, "", err
	}
	return out.Success, out.Message, nil
}

// SendAudio sends an audio file as a playable WhatsApp voice message. Files
// that are not already ogg are transcoded to ogg/opus first; when that fails
// (most likely ffmpeg is not installed) the error suggests SendFile, which
// delivers the audio as a plain document instead.
func (c *Client) SendAudio(ctx context.Context, recipient, mediaPath string) (bool, string, error) {
	if recipient == "" {
		return false, "", fmt.Errorf("recipient must be provided")
	}
	if mediaPath == "" {
		return false, "", fmt.Errorf("media path must be provided")
	}
	if _, err := os.Stat(mediaPath); err != nil {
		return false, "", fmt.Errorf("media file not found: %s", mediaPath)
	}

	if !strings.HasSuffix(mediaPath, ".ogg") {
		converted, err := c.convertAudio(ctx, mediaPath)
		if err != nil {
			return false, "", fmt.Errorf("converting audio to opus ogg, install ffmpeg or send it as a file instead: %w", err)
		}
		defer func() { _ = os.Remove(converted) }()
		mediaPath = converted
	}

	var out sendResponse
	err := c.postJSON(ctx, c.apiBase+"/send", map[string]string{
		"recipient":  recipient,
		"media_path": mediaPath,
	}, &out)
	if err != nil {
		return false, "", err
	}
	return out.Success, out.Message, nil
}

// DownloadMedia asks the bridge to download a message's media and returns
// the local path the bridge stored it at.
func (c *Client) DownloadMedia(ctx context.Context, messageID, chatJID string) (string, error) {
	var out sendResponse
	err := c.postJSON(ctx, c.apiBase+"/download", map[string]string{
		"message_id": messageID,
		"chat_jid":   chatJID,
	}, &out)
	if err != nil {
		return "", err
	}
	if !out.Success {
		return "", fmt.Errorf("download failed: %s", out.Message)
	}
	return out.Path, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	return c.doJSON(ctx, http.MethodGet, url, nil, out)
}

func (c *Client) postJSON(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	return c.doJSON(ctx, http.MethodPost, url, body, out)
}

// doJSON performs a request with retries on rate limiting and server
// errors. Client errors are returned immediately.
func (c *Client) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := retryBackoff * time.Duration(1<<(attempt-2))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Debug("bridge api request failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("bridge api: status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("bridge api: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding bridge response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("bridge api unreachable after %d attempts: %w", maxAttempts, lastErr)
}
