// Package logging provides the file-based request logger. Each handled
// request is written to its own file in the configured logging
// directory, carrying the prompt material and the final response text.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/llmgate/LLMGateAPI/internal/config"
	"github.com/llmgate/LLMGateAPI/internal/interfaces"
)

// RequestLogger writes one log file per handled request. A disabled
// logger is a no-op, so call sites never need to branch.
type RequestLogger struct {
	dir     string
	enabled bool
	mu      sync.Mutex
}

// NewRequestLogger builds the logger from the service configuration and
// creates the logging directory when request logging is enabled.
func NewRequestLogger(cfg *config.Config) *RequestLogger {
	l := &RequestLogger{dir: cfg.ResolvedLoggingDir(), enabled: cfg.RequestLog}
	if l.enabled {
		if err := os.MkdirAll(l.dir, 0o755); err != nil {
			log.Errorf("cannot create logging directory %s: %v; request logging disabled", l.dir, err)
			l.enabled = false
		}
	}
	return l
}

// Log records one completed request. Failures are logged and swallowed;
// request logging never fails a request.
func (l *RequestLogger) Log(req *interfaces.Request, workflow, response string) {
	if l == nil || !l.enabled {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "request_id: %s\n", req.ID)
	fmt.Fprintf(&b, "time: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "api_kind: %s\n", req.APIKind)
	fmt.Fprintf(&b, "model: %s\n", req.Model)
	fmt.Fprintf(&b, "workflow: %s\n", workflow)
	fmt.Fprintf(&b, "stream: %t\n", req.Stream)
	b.WriteString("\n--- messages ---\n")
	for _, m := range req.Messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	b.WriteString("\n--- response ---\n")
	b.WriteString(response)
	b.WriteString("\n")

	name := fmt.Sprintf("%s-%s.log", time.Now().Format("20060102-150405"), req.ID)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.WriteFile(filepath.Join(l.dir, name), []byte(b.String()), 0o644); err != nil {
		log.Errorf("request log write failed: %v", err)
	}
}
