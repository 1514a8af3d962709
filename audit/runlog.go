package audit

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

const runLogTimeFormat = "2006-01-02 15:04:05"

// RunLog appends verification runs to a text file. Existing content is never rewritten.
type RunLog struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewRunLog returns a run log writing to path
func NewRunLog(path string) (*RunLog, error) {
	if path == "" {
		return nil, fmt.Errorf("run log path is required")
	}
	return &RunLog{path: filepath.Clean(path), now: time.Now}, nil
}

// Path returns the file the log appends to
func (l *RunLog) Path() string {
	return l.path
}

// Append writes one run block for report
func (l *RunLog) Append(report *types.VerificationReport) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	w := bufio.NewWriter(f)
	writeRun(w, report, l.now())
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write run log: %w", err)
	}
	return f.Close()
}

func writeRun(w io.Writer, report *types.VerificationReport, at time.Time) {
	fmt.Fprintf(w, "--- Verification Run @ %s ---\n", at.Format(runLogTimeFormat))
	fmt.Fprintf(w, "Total: %d, OK: %d, Failed: %d\n", report.Total, report.OK, report.Bad)
	for _, r := range report.Results {
		status := "OK"
		if !r.OK {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%d: %s (%s)\n", r.ID, status, r.Reason)
	}
	fmt.Fprintln(w)
}
