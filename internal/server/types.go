// Package server defines shared payload helpers that are reused across client
// and hub logic.
package server

import (
	"encoding/json"
	"strings"
)

const (
	userDestinationPrefix = "/user"

	contentTypeJSON = "application/json"
	contentTypeText = "text/plain"
)

// encodePayload renders a published payload as a MESSAGE body. Strings and
// byte slices go out as plain text, everything else as JSON.
func encodePayload(payload any) ([]byte, string, error) {
	switch v := payload.(type) {
	case string:
		return []byte(v), contentTypeText, nil
	case []byte:
		return v, contentTypeText, nil
	default:
		body, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return body, contentTypeJSON, nil
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
