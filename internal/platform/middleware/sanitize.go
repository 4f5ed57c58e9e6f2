package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const maxHeaderValueSize = 8192

var (
	// Logged only. The stores never build queries from request text.
	sqlPatterns = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1|1\s*=\s*1)`)

	// Mongo operators smuggled in through a query key or value.
	operatorPatterns = regexp.MustCompile(`(^|\[)\$[a-zA-Z]+`)

	scriptPatterns = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)
)

// Sanitize rejects requests whose headers, query string or route params
// (uhiNo, record id, report id) carry traversal, null bytes, header
// injection, operator keys or script markup. Rejections go through
// ErrorHandler as kind "validation". It must be mounted on a group so route
// params are already resolved.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			rawPath := req.URL.RawPath
			if rawPath == "" {
				rawPath = path
			}

			if containsPathTraversal(path) || containsPathTraversal(rawPath) {
				return rejected(c, logger, "path traversal detected")
			}
			if containsNullByte(path) || containsNullByte(rawPath) {
				return rejected(c, logger, "null byte in path")
			}
			if scriptPatterns.MatchString(path) || strings.ContainsAny(path, "<>") {
				return rejected(c, logger, "script content in path")
			}

			for name, values := range req.Header {
				for _, v := range values {
					if len(v) > maxHeaderValueSize {
						return rejected(c, logger, "header "+name+" is too large")
					}
					if strings.ContainsAny(v, "\r\n") {
						return rejected(c, logger, "header injection detected: "+name)
					}
				}
			}

			for i, name := range c.ParamNames() {
				v := c.ParamValues()[i]
				if containsNullByte(v) || scriptPatterns.MatchString(v) || strings.ContainsAny(v, "<>") {
					return rejected(c, logger, "invalid characters in "+name)
				}
			}

			for key, values := range req.URL.Query() {
				if operatorPatterns.MatchString(key) {
					return rejected(c, logger, "operator keys are not accepted in the query string")
				}
				for _, v := range values {
					if containsNullByte(v) || containsNullByte(key) {
						return rejected(c, logger, "null byte in query parameter")
					}
					if sqlPatterns.MatchString(v) {
						logger.Warn().
							Str("param", key).
							Str("route", c.Path()).
							Str("remote_ip", c.RealIP()).
							Msg("suspicious query parameter")
					}
					if scriptPatterns.MatchString(v) || scriptPatterns.MatchString(key) {
						return rejected(c, logger, "script content in query parameter")
					}
				}
			}

			return next(c)
		}
	}
}

func containsPathTraversal(s string) bool {
	if strings.Contains(s, "..") {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

func containsNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}

func rejected(c echo.Context, logger zerolog.Logger, reason string) error {
	rid, _ := c.Get("request_id").(string)
	logger.Warn().
		Str("request_id", rid).
		Str("route", c.Path()).
		Str("remote_ip", c.RealIP()).
		Str("reason", reason).
		Msg("request rejected")
	return echo.NewHTTPError(http.StatusBadRequest, reason)
}

// SanitizeString strips null bytes and control characters other than
// newline, carriage return and tab, then trims surrounding whitespace. The
// patient handlers run names, notes and summaries through it before they
// are stored.
func SanitizeString(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == '\x00' {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
