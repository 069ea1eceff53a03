package rest

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const deviceTable = "whatsmeow_device"

// AuthRepo implements storage.AuthenticationRepository against the remote API.
type AuthRepo struct {
	client *Client
	logger *zap.Logger
}

// CheckAuthenticationStatus reports whether a WhatsApp device is registered
// remotely. It never returns an error; failures surface as a reason string.
func (r *AuthRepo) CheckAuthenticationStatus(ctx context.Context) (bool, string) {
	params := url.Values{}
	params.Set("select", "jid")
	params.Set("limit", "1")

	var rows []struct {
		JID string `json:"jid"`
	}
	err := r.client.Get(ctx, deviceTable, params, &rows)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || strings.Contains(apiErr.Body, "does not exist")) {
			return false, "no device table found"
		}
		r.logger.Error("authentication status check failed", zap.Error(err))
		return false, "failed to check authentication: " + err.Error()
	}
	if len(rows) == 0 {
		return false, "no device registered"
	}
	return true, ""
}
