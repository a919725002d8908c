package sync

import (
	log "github.com/sirupsen/logrus"
)

// progressStep is the percentage between two progress log lines.
const progressStep = 20

// progress logs how far through a chunked transfer we are, every
// progressStep percent and on the final chunk.
type progress struct {
	logger   *log.Entry
	total    int
	lastStep int
}

func newProgress(direction, path string, total int) *progress {
	return &progress{
		logger: log.WithFields(log.Fields{
			"path":      path,
			"direction": direction,
			"chunks":    total,
		}),
		total:    total,
		lastStep: -1,
	}
}

// done records that `completed` chunks have been transferred.
func (p *progress) done(completed int) {
	if p.total <= 0 {
		return
	}

	percent := completed * 100 / p.total
	step := percent / progressStep
	if completed < p.total && step <= p.lastStep {
		return
	}

	p.lastStep = step
	p.logger.WithField("percent", percent).Infof("Transferred %d/%d chunks", completed, p.total)
}
