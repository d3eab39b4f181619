package util

import "log/slog"

// LogNotifyResult executes a notification function and logs the result.
func LogNotifyResult(fn func() error, channel string) {
	err := fn()
	if err != nil {
		slog.Error("notification failed", "channel", channel, "error", err)
	} else {
		slog.Info("notification sent", "channel", channel)
	}
}
