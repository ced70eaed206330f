package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RetentionTarget names a directory and a filename glob whose files age out.
// Paths in Keep are never removed, typically the files the daemon is writing.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Keep    []string
}

// Retention prunes daemon log and trace files older than Days. Zero Days
// keeps everything.
type Retention struct {
	Days    int
	Targets []RetentionTarget
	Now     func() time.Time
}

// PruneReport lists what a Prune pass removed and what it could not remove.
type PruneReport struct {
	Removed []string
	Failed  []string
}

// Prune removes expired files and logs each removal.
func (r Retention) Prune(logger *slog.Logger) PruneReport {
	var report PruneReport
	if r.Days <= 0 {
		return report
	}
	if logger == nil {
		logger = NewNop()
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	cutoff := now().AddDate(0, 0, -r.Days)

	keep := make(map[string]struct{})
	for _, target := range r.Targets {
		for _, path := range target.Keep {
			if abs := absPath(path); abs != "" {
				keep[abs] = struct{}{}
			}
		}
	}

	for _, target := range r.Targets {
		for _, path := range expiredFiles(target, cutoff) {
			if _, skip := keep[path]; skip {
				continue
			}
			if err := os.Remove(path); err != nil {
				report.Failed = append(report.Failed, path)
				WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
					String("path", path),
					Error(err),
					Hint("check file permissions and log_dir ownership"),
					Impact("old log file remains on disk"),
				)
				continue
			}
			report.Removed = append(report.Removed, path)
			logger.Info("log pruned", String("path", path), EventType("log_pruned"))
		}
	}
	if len(report.Removed) > 0 {
		logger.Info("log retention complete",
			Int("removed", len(report.Removed)),
			Int("retention_days", r.Days),
			EventType("log_retention_complete"),
		)
	}
	return report
}

// expiredFiles returns absolute paths of regular files in target.Dir that
// match target.Pattern and were last modified before cutoff.
func expiredFiles(target RetentionTarget, cutoff time.Time) []string {
	dir := strings.TrimSpace(target.Dir)
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	pattern := strings.TrimSpace(target.Pattern)
	var out []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if pattern != "" {
			if matched, err := filepath.Match(pattern, entry.Name()); err != nil || !matched {
				continue
			}
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		out = append(out, absPath(filepath.Join(dir, entry.Name())))
	}
	return out
}

func absPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
