package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/voicetutor/voice-tutor-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// OPERATOR AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// OperatorKeyHeader carries the operator API key on review endpoints.
const OperatorKeyHeader = "X-Operator-Key"

// OperatorAuth authenticates operator API keys against bcrypt hashes. Raw
// keys live only in the operator's hands; configuration stores hashes.
type OperatorAuth struct {
	hashes [][]byte
	logger *logger.Logger
}

// NewOperatorAuth creates an OperatorAuth from configured bcrypt hashes.
// Malformed hashes are dropped up front so every request does not pay for
// them.
func NewOperatorAuth(hashes []string, log *logger.Logger) *OperatorAuth {
	if log == nil {
		log = logger.Default()
	}

	valid := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			log.Warn("dropping malformed operator key hash")
			continue
		}
		valid = append(valid, []byte(h))
	}

	return &OperatorAuth{
		hashes: valid,
		logger: log.With(logger.Component("operator-auth")),
	}
}

// Enabled reports whether any operator keys are configured. With none, the
// operator surface refuses all requests rather than running open.
func (a *OperatorAuth) Enabled() bool {
	return len(a.hashes) > 0
}

// Authorize checks a raw key against the configured hashes.
func (a *OperatorAuth) Authorize(key string) bool {
	if key == "" {
		return false
	}
	for _, hash := range a.hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
			return true
		}
	}
	return false
}

// Middleware guards an operator endpoint. The key comes from the
// X-Operator-Key header or a Bearer token.
func (a *OperatorAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			writeAuthError(w, http.StatusForbidden, "operator_access_disabled", "no operator keys configured")
			return
		}

		key := r.Header.Get(OperatorKeyHeader)
		if key == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if !a.Authorize(key) {
			a.logger.Warn("operator key rejected", logger.String("ip", clientIP(r)))
			writeAuthError(w, http.StatusUnauthorized, "invalid_operator_key", "operator key missing or invalid")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "message": message},
	})
}

// clientIP extracts the caller address, honouring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
