// Package util provides utility functions shared across the LLM Gate
// API server: proxy configuration for outbound HTTP clients, API key
// masking for logs, and log level handling.
package util

import (
	"github.com/llmgate/LLMGateAPI/internal/config"
	log "github.com/sirupsen/logrus"
)

// HideAPIKey masks an API key for logging, keeping only the first and
// last four characters.
func HideAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "******"
	}
	return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
}

// SetLogLevel applies the configuration's debug flag to the global
// logger.
func SetLogLevel(cfg *config.Config) {
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}
