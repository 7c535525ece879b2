package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const cursorPrefix = "srr|"

// DecodeRunCursor returns the SRR id a page continues after. An empty cursor starts at the beginning.
func DecodeRunCursor(cursorStr string) (string, error) {
	if cursorStr == "" {
		return "", nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return "", err
	}

	after, ok := strings.CutPrefix(string(decoded), cursorPrefix)
	if !ok || after == "" {
		return "", fmt.Errorf("invalid cursor format")
	}

	return after, nil
}

// EncodeRunCursor wraps the last SRR id of a page into an opaque cursor
func EncodeRunCursor(srrID string) string {
	if srrID == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + srrID))
}
