package sync

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Status is the outcome of a logged sync action.
type Status string

// The possible statuses of a LogEntry.
const (
	StatusInfo    Status = "info"
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Actions recorded in a LogEntry.
const (
	ActionUpdate    = "update"
	ActionCreateDir = "create_dir"
	ActionDelete    = "delete"
	ActionReceive   = "receive"
	ActionSend      = "send"
	ActionSyncAll   = "sync_all"
	ActionUpload    = "upload"
	ActionConfigure = "configure"
	ActionConnect   = "connect"
)

// LogEntry is one user-visible record of a sync outcome.
type LogEntry struct {
	Time    time.Time
	Action  string
	Path    string
	Status  Status
	Message string
}

// A Reporter receives the outcome of every sync action.
type Reporter interface {
	Report(LogEntry)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(LogEntry)

// Report calls f(entry).
func (f ReporterFunc) Report(entry LogEntry) {
	f(entry)
}

// LogReporter writes entries to the logrus standard logger.
type LogReporter struct{}

// Report logs the entry at a level matching its status.
func (LogReporter) Report(entry LogEntry) {
	logger := log.WithFields(log.Fields{
		"action": entry.Action,
		"status": entry.Status,
	})
	if entry.Path != "" {
		logger = logger.WithField("path", entry.Path)
	}

	switch entry.Status {
	case StatusError:
		logger.Error(entry.Message)
	case StatusWarning:
		logger.Warn(entry.Message)
	default:
		logger.Info(entry.Message)
	}
}

// MultiReporter sends each entry to every reporter in order.
type MultiReporter []Reporter

// Report forwards entry to every reporter.
func (m MultiReporter) Report(entry LogEntry) {
	for _, r := range m {
		r.Report(entry)
	}
}
