// Package auditlog mirrors the audit feed into an append-only JSONL file and
// records each entry as a trace event.
package auditlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ppi-control/internal/domain"
	"ppi-control/internal/infra/tracer"
)

// maxLine bounds one JSONL record when reading the file back.
const maxLine = 1024 * 1024

// Source streams appended audit entries.
type Source interface {
	OnAudit(fn domain.AuditFunc) func()
}

// RetentionPolicy controls how long mirrored entries are kept.
type RetentionPolicy struct {
	MaxAge  time.Duration // 0 = no limit
	MaxSize int64         // bytes; 0 = no limit
}

// FileMirror writes every audit entry as one JSON line.
type FileMirror struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	retention RetentionPolicy
	logger    *slog.Logger
}

// NewFileMirror opens path for appending, creating it with 0600 permissions.
func NewFileMirror(path string, logger *slog.Logger) (*FileMirror, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, domain.NewDomainError("auditlog.Open", domain.ErrAuditWrite, err.Error())
	}
	f, err := openAppend(path)
	if err != nil {
		return nil, domain.NewDomainError("auditlog.Open", domain.ErrAuditWrite, err.Error())
	}
	return &FileMirror{file: f, path: path, logger: logger.With("component", "auditlog")}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

// SetRetention configures the policy EnforceRetention applies.
func (m *FileMirror) SetRetention(policy RetentionPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retention = policy
}

// Path returns the mirrored file.
func (m *FileMirror) Path() string { return m.path }

// Attach mirrors every entry appended to src until the returned function is called.
func (m *FileMirror) Attach(src Source) func() {
	return src.OnAudit(func(entry domain.FeedEntry) {
		ctx, span := tracer.StartSpan(context.Background(), "audit.mirror")
		defer span.End()
		if err := m.Write(ctx, entry); err != nil {
			tracer.RecordError(span, err)
			m.logger.Warn("audit entry not mirrored", "seq", entry.Seq, "error", err)
		}
	})
}

// Write appends entry and adds it to the span in ctx as an event.
func (m *FileMirror) Write(ctx context.Context, entry domain.FeedEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return domain.NewDomainError("auditlog.Write", domain.ErrAuditWrite, err.Error())
	}

	m.mu.Lock()
	_, err = m.file.Write(append(data, '\n'))
	m.mu.Unlock()
	if err != nil {
		return domain.NewDomainError("auditlog.Write", domain.ErrAuditWrite, err.Error())
	}

	tracer.AddEvent(ctx, "audit."+entry.Category+"."+entry.Action,
		tracer.IntAttr("audit.seq", int(entry.Seq)),
		tracer.StringAttr("audit.agent", string(entry.Agent)),
		tracer.StringAttr("audit.project_id", entry.ProjectID),
	)
	return nil
}

// Close closes the file.
func (m *FileMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}

// EnforceRetention rewrites the file keeping only entries the policy allows.
// Oldest entries go first when the size limit is exceeded.
func (m *FileMirror) EnforceRetention(_ context.Context) (removed int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	policy := m.retention
	if policy.MaxAge <= 0 && policy.MaxSize <= 0 {
		return 0, nil
	}

	var cutoff time.Time
	if policy.MaxAge > 0 {
		cutoff = time.Now().Add(-policy.MaxAge)
	}

	lines, err := readLines(m.path)
	if err != nil {
		return 0, err
	}

	kept := lines[:0]
	var keptSize int64
	for _, line := range lines {
		if !cutoff.IsZero() {
			var e struct {
				CreatedAt time.Time `json:"created_at"`
			}
			if json.Unmarshal(line, &e) == nil && !e.CreatedAt.IsZero() && e.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
		}
		kept = append(kept, line)
		keptSize += int64(len(line)) + 1
	}
	for policy.MaxSize > 0 && len(kept) > 0 && keptSize > policy.MaxSize {
		keptSize -= int64(len(kept[0])) + 1
		kept = kept[1:]
		removed++
	}
	if removed == 0 {
		return 0, nil
	}

	if err := m.file.Close(); err != nil {
		return 0, fmt.Errorf("close for retention: %w", err)
	}
	rewriteErr := rewrite(m.path, kept)
	m.file, err = openAppend(m.path)
	if rewriteErr != nil {
		return 0, rewriteErr
	}
	if err != nil {
		return removed, fmt.Errorf("reopen after retention: %w", err)
	}
	m.logger.Info("audit retention applied", "removed", removed, "kept", len(kept))
	return removed, nil
}

func rewrite(path string, lines [][]byte) error {
	tmpPath := path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit mirror: %w", err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit mirror: %w", err)
	}
	return lines, nil
}

// Tail reads the last n entries from a mirror file, oldest first. n <= 0
// returns every entry. Malformed lines are skipped.
func Tail(path string, n int) ([]domain.FeedEntry, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	entries := make([]domain.FeedEntry, 0, len(lines))
	for _, line := range lines {
		var e domain.FeedEntry
		if json.Unmarshal(line, &e) != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
