package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Process environment overrides for the settings file.
const (
	EnvURL          = "INDEXCTL_ES_URL"
	EnvUsername     = "INDEXCTL_ES_USERNAME"
	EnvPasswordFile = "INDEXCTL_ES_PASSWORD_FILE"
	EnvTimeout      = "INDEXCTL_ES_TIMEOUT"
	EnvMaxAttempts  = "INDEXCTL_SNAPSHOT_MAX_ATTEMPTS"
	EnvNotifyKey    = "INDEXCTL_NOTIFY_KEY_FILE"
)

// GetEnv returns the trimmed value of key, or fallback when it is unset or
// blank.
func GetEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// GetIntEnv is GetEnv for integers. An unparseable value keeps fallback and
// is reported, since a typo would otherwise go unnoticed in a cron job.
func GetIntEnv(key string, fallback int) int {
	value := GetEnv(key, "")
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Ignoring invalid integer override", "variable", key, "value", value)
		return fallback
	}
	return n
}

// GetDurationEnv is GetEnv for durations such as "30s".
func GetDurationEnv(key string, fallback time.Duration) time.Duration {
	value := GetEnv(key, "")
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Ignoring invalid duration override", "variable", key, "value", value)
		return fallback
	}
	return d
}

// GetListEnv splits a comma separated value, dropping blank entries. It
// returns nil when key is unset.
func GetListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(GetEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetSecretFile returns the trimmed contents of path, used for the cluster
// password and the webhook signing key so neither has to sit in the settings
// file. A missing or unreadable file yields "" with a warning.
func GetSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Cannot read secret file", "path", path, "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}
