package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"invisibrow/internal/logging"
)

// Audit persists every LLM exchange under
// <storage>/message/<sessionId>/<agentType>/msg_<yyyymmdd_hhmmss>.json.
// Failures are logged and swallowed: the audit trail never fails a task.
type Audit struct {
	dir string
}

// NewAudit creates an audit writer rooted at <storageDir>/message.
func NewAudit(storageDir string) *Audit {
	return &Audit{dir: filepath.Join(storageDir, "message")}
}

type auditRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model"`
	AgentType string    `json:"agentType"`
	SessionID string    `json:"sessionId"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Response  string    `json:"response,omitempty"`
	Usage     Usage     `json:"usage"`
	Error     string    `json:"error,omitempty"`
}

// Record writes one exchange. Safe to call on a nil Audit.
func (a *Audit) Record(req Request, response string, usage Usage, callErr error) {
	if a == nil {
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "unscoped"
	}
	agentType := req.AgentType
	if agentType == "" {
		agentType = "unknown"
	}

	dir := filepath.Join(a.dir, sessionID, agentType)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Get(logging.CategoryAPI).Warn("audit dir %s: %v", dir, err)
		return
	}

	rec := auditRecord{
		Timestamp: time.Now(),
		Model:     req.Model,
		AgentType: agentType,
		SessionID: req.SessionID,
		System:    req.System,
		Messages:  req.Messages,
		Response:  response,
		Usage:     usage,
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		logging.Get(logging.CategoryAPI).Warn("audit marshal: %v", err)
		return
	}

	stamp := rec.Timestamp.Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("msg_%s.json", stamp))
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		// Several calls can land within the same second.
		path = filepath.Join(dir, fmt.Sprintf("msg_%s_%d.json", stamp, i))
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		logging.Get(logging.CategoryAPI).Warn("audit write %s: %v", path, err)
	}
}
