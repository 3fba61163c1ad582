package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/workshop/internal/registry"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// isSafeName accepts identifiers made of A-Z a-z 0-9 . _ - without "..".
func isSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

type errorResp struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

// writeError maps registry sentinels onto status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error(), Status: "not_found"})
	case errors.Is(err, registry.ErrConflict):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error(), Status: "conflict"})
	case errors.Is(err, registry.ErrGhost):
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error(), Status: "ghost"})
	default:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}
