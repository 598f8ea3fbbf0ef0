package logging

import "log/slog"

// MaskField logs the size of a sensitive value in place of its content. An
// empty value is logged unchanged.
func MaskField(key, value string) slog.Attr {
	if value == "" {
		return slog.String(key, value)
	}
	return slog.Group(key, slog.Bool("redacted", true), slog.Int("bytes", len(value)))
}
