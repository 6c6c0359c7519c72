// Package audit logs CLI command invocations together with the resolved
// configuration, so operators can trace which model, encoders and shards a
// run used. Secrets are logged as presence/absence only.
package audit

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strings"
)

// envGroups is the configuration recorded for every command, grouped by
// concern. Group order and key order are preserved in the log record.
var envGroups = []struct {
	name string
	keys []string
}{
	{"llm", []string{
		"MODEL_PROVIDER", "OLLAMA_HOST", "OLLAMA_MODEL", "OPENAI_API_KEY", "OPENAI_MODEL",
		"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT",
		"ARK_API_KEY", "ARK_MODEL", "GOOGLE_API_KEY", "GEMINI_MODEL",
	}},
	{"encoders", []string{
		"TEXT_ENCODER_PROVIDER", "TEXT_ENCODER_MODEL", "TEXT_ENCODER_API_KEY",
		"IMAGE_ENCODER_PROVIDER", "IMAGE_ENCODER_MODEL", "IMAGE_ENCODER_API_KEY",
		"EMBEDDING_API_KEY",
	}},
	{"retrieval", []string{
		"TEXT_INDEX", "IMAGE_INDEX", "QDRANT_API_KEY", "FUSION_METHOD",
		"QUERY_EXPANDER", "RERANK_ENABLED",
	}},
	{"service", []string{"BOOKINSIGHT_DB", "BOOKINSIGHT_API_KEY", "LOG_LEVEL", "LOG_FORMAT"}},
	{"tracing", []string{"LANGFUSE_HOST", "LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY"}},
}

// secretSuffixes mark variables and flags whose values are credentials.
var secretSuffixes = []string{"_API_KEY", "_SECRET_KEY", "_PUBLIC_KEY", "_TOKEN", "_PASSWORD"}

// LogCommandStart emits one audit record for a CLI command. flags holds the
// flags the user set explicitly, by name.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string, flags map[string]string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}

	for _, g := range envGroups {
		group := make([]any, 0, len(g.keys))
		for _, key := range g.keys {
			group = append(group, slog.String(key, SanitiseKey(key, os.Getenv(key))))
		}
		attrs = append(attrs, slog.Group(g.name, group...))
	}

	if len(flags) > 0 {
		names := make([]string, 0, len(flags))
		for name := range flags {
			names = append(names, name)
		}
		sort.Strings(names)
		set := make([]any, 0, len(names))
		for _, name := range names {
			key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
			set = append(set, slog.String(name, SanitiseKey(key, flags[name])))
		}
		attrs = append(attrs, slog.Group("flags", set...))
	}

	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey returns a loggable form of value. Credentials become
// "set"/"unset", URLs lose any embedded password and empty values read
// "unset".
func SanitiseKey(key, value string) string {
	if IsSecret(key) {
		return presence(value)
	}
	if value == "" {
		return "unset"
	}
	return redactURL(value)
}

// IsSecret reports whether key names a credential.
func IsSecret(key string) bool {
	key = strings.ToUpper(key)
	if key == "API_KEY" {
		return true
	}
	for _, s := range secretSuffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// redactURL masks the password of a URL with userinfo, e.g. a Qdrant
// location. Anything that is not such a URL is returned unchanged.
func redactURL(v string) string {
	if !strings.Contains(v, "://") || !strings.Contains(v, "@") {
		return v
	}
	u, err := url.Parse(v)
	if err != nil || u.User == nil {
		return v
	}
	return u.Redacted()
}

// sanitiseConfigPath shortens the home directory to "~".
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
