// Package signedlink emulates cloud-storage temporary links for the local
// filesystem driver: URL construction, the expiry-enforcing gate, the static
// file handler behind it, and the optional server-side grant store.
package signedlink

import (
	"net/url"
	"strings"
	"time"
)

// RoutePrefix is the path every locally signed link is served under.
const RoutePrefix = "/local-object-signed-links"

const (
	ExpiresAtParam = "expiresAt"
	TokenParam     = "token"
)

// expiresAtLayout is ISO-8601 in UTC with millisecond precision, e.g.
// 2026-10-18T10:00:00.000Z.
const expiresAtLayout = "2006-01-02T15:04:05.000Z07:00"

func FormatExpiresAt(t time.Time) string {
	return t.UTC().Format(expiresAtLayout)
}

// ParseExpiresAt accepts RFC 3339 instants (fractional seconds optional) and
// bare dates, which are read as midnight UTC.
func ParseExpiresAt(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	t, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return t, nil
	}
	if d, dateErr := time.Parse(time.DateOnly, value); dateErr == nil {
		return d, nil
	}
	return time.Time{}, err
}

// BuildURL returns {publicBaseURL}/local-object-signed-links/{dataset}/{key}
// with every path segment escaped and query appended when non-empty.
func BuildURL(publicBaseURL, dataset, key string, query url.Values) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(publicBaseURL, "/"))
	b.WriteString(RoutePrefix)
	b.WriteByte('/')
	b.WriteString(url.PathEscape(dataset))
	for _, segment := range strings.Split(key, "/") {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(segment))
	}
	if len(query) > 0 {
		b.WriteByte('?')
		b.WriteString(query.Encode())
	}
	return b.String()
}

// splitPath turns a request path under RoutePrefix into dataset and key.
func splitPath(requestPath string) (dataset, key string, ok bool) {
	rest, found := strings.CutPrefix(requestPath, RoutePrefix+"/")
	if !found {
		return "", "", false
	}
	dataset, key, found = strings.Cut(rest, "/")
	if !found || dataset == "" || key == "" {
		return "", "", false
	}
	return dataset, key, true
}
