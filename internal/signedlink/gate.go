package signedlink

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sashko-guz/objstore/internal/logger"
	"github.com/sashko-guz/objstore/internal/metrics"
)

const (
	ModeQuery = "query"
	ModeToken = "token"
)

type GateConfig struct {
	// Enabled is true only while the local driver is active. A disabled gate
	// answers 404 so other drivers never expose local files through it.
	Enabled bool
	Mode    string
	Tokens  *TokenStore // Required in token mode
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type errorBody struct {
	Error string `json:"error"`
}

// Gate enforces signed-link validity before handing the request to next,
// which serves the file and knows nothing about expiry.
func Gate(cfg GateConfig, next http.Handler) http.Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Enabled {
			cfg.Metrics.SignedLink(metrics.LinkDisabled)
			http.NotFound(w, r)
			return
		}

		var outcome string
		if cfg.Mode == ModeToken {
			outcome = checkToken(cfg.Tokens, r, now())
		} else {
			outcome = checkExpiresAt(r, now())
		}

		cfg.Metrics.SignedLink(outcome)
		switch outcome {
		case metrics.LinkExpired:
			writeError(w, http.StatusForbidden, "Signed link expired!")
		case metrics.LinkInvalid:
			writeError(w, http.StatusForbidden, "Signed link invalid!")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// checkExpiresAt applies the query-mode rule: reject only when expiresAt is
// present, parses, and lies strictly in the past. The parameter is not signed,
// so removing it lifts the limit.
func checkExpiresAt(r *http.Request, now time.Time) string {
	raw := r.URL.Query().Get(ExpiresAtParam)
	if raw == "" {
		return metrics.LinkServed
	}

	expiresAt, err := ParseExpiresAt(raw)
	if err != nil {
		logger.Warnf("[SignedLinkGate] Ignoring unparseable %s=%q on %s: %v", ExpiresAtParam, raw, r.URL.Path, err)
		return metrics.LinkServed
	}

	if now.After(expiresAt) {
		logger.Debugf("[SignedLinkGate] Link expired at %s: %s", FormatExpiresAt(expiresAt), r.URL.Path)
		return metrics.LinkExpired
	}
	return metrics.LinkServed
}

func checkToken(tokens *TokenStore, r *http.Request, now time.Time) string {
	if tokens == nil {
		logger.Errorf("[SignedLinkGate] Token mode enabled without a token store")
		return metrics.LinkInvalid
	}

	token := r.URL.Query().Get(TokenParam)
	grant, ok := tokens.Resolve(token)
	if !ok {
		return metrics.LinkInvalid
	}

	dataset, key, ok := splitPath(r.URL.Path)
	if !ok || !grant.matches(dataset, key) {
		logger.Debugf("[SignedLinkGate] Token for %s/%s used on %s", grant.Dataset, grant.Key, r.URL.Path)
		return metrics.LinkInvalid
	}

	if grant.Expired(now) {
		tokens.Revoke(token)
		return metrics.LinkExpired
	}
	return metrics.LinkServed
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorBody{Error: message}); err != nil {
		logger.Warnf("[SignedLinkGate] Failed to write error body: %v", err)
	}
}
