package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port         string
	User         string
	APIKey       string
	Model        string
	LiveModel    string
	StatePath    string
	KnowledgeDir string
	DumpPath     string
	LogFile      string
	Display      int
	SnapInterval time.Duration
}

func Load() Config {
	return Config{
		Port:         getenv("PORT", "8080"),
		User:         getenv("OMNISENSE_USER", "local"),
		APIKey:       getenv("GEMINI_API_KEY", ""),
		Model:        getenv("GEMINI_MODEL", "gemini-3-flash-preview"),
		LiveModel:    getenv("GEMINI_LIVE_MODEL", "models/gemini-2.5-flash-native-audio-preview-12-2025"),
		StatePath:    getenv("STATE_DB", "omnisense.db"),
		KnowledgeDir: getenv("KNOWLEDGE_DIR", ""),
		DumpPath:     getenv("CAPTURE_DUMP", ""),
		LogFile:      getenv("LOG_FILE", ""),
		Display:      getint("DISPLAY_INDEX", 0),
		SnapInterval: getseconds("SNAPSHOT_INTERVAL_S", 8),
	}
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getint(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func getseconds(k string, d int) time.Duration {
	return time.Duration(getint(k, d)) * time.Second
}
