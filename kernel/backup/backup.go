// Package backup implements the §4.5 Backup Manager: content-addressed
// snapshots of affected files under a date/id layout, with retry-on-copy,
// point-in-time restore, and a retention sweep.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

// Record describes one backup: the files it preserved and where the
// copies live on disk.
type Record struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	AffectedFiles []string  `json:"affected_files"`
	BackupRootDir string    `json:"backup_root_dir"`
	Description   string    `json:"description"`
}

// IDFunc supplies the backup identifier; cmd/cli wires google/uuid in
// production and tests use a deterministic stub.
type IDFunc func() string

// Clock abstracts time for deterministic date-bucketing in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Retention bounds how long backups are kept by the sweep.
type Retention struct {
	MaxCount           int
	MaxAgeDays         int
	SweepIntervalHours int
}

// Manager creates, restores, and sweeps backups rooted at Root.
type Manager struct {
	Root  string
	Clock Clock
	NewID IDFunc
}

// New builds a Manager rooted at root. id, if nil, defaults to a
// timestamp-derived identifier.
func New(root string, id IDFunc) *Manager {
	return &Manager{Root: root, Clock: systemClock{}, NewID: id}
}

const (
	copyMaxRetries    = 5
	copyLinearStep    = 50 * time.Millisecond
	restoreMaxRetries = 3
	restoreLinearStep = 10 * time.Millisecond
)

// CreateBackup copies each of files concurrently into
// <root>/YYYY-MM-DD/<id>/<relative-affected-path>, writes a co-located
// metadata.json, and returns the resulting Record. Files that no longer
// exist by the time they're copied are silently omitted, per §4.5.
func (m *Manager) CreateBackup(files []string, description string) (Record, error) {
	now := m.clock().Now()
	id := m.newID()
	backupDir := filepath.Join(m.Root, now.Format("2006-01-02"), id)
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return Record{}, fmt.Errorf("backup: create backup dir: %w", err)
	}

	copied := make([]bool, len(files))
	var g errgroup.Group
	for i, src := range files {
		i, src := i, src
		g.Go(func() error {
			if _, err := os.Stat(src); err != nil {
				return nil
			}
			rel, err := relativeAffectedPath(src)
			if err != nil {
				return err
			}
			dst := filepath.Join(backupDir, rel)
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return fmt.Errorf("backup: create copy parent dir: %w", err)
			}
			if err := copyFileWithRetry(src, dst); err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return fmt.Errorf("backup: copy %s: %w", src, err)
			}
			copied[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Record{}, err
	}

	var preserved []string
	for i, src := range files {
		if copied[i] {
			preserved = append(preserved, src)
		}
	}

	record := Record{
		ID:            id,
		Timestamp:     now,
		AffectedFiles: preserved,
		BackupRootDir: backupDir,
		Description:   description,
	}
	if err := writeMetadata(backupDir, record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// RestoreBackup recreates parent directories as needed and copies every
// preserved file back to its original absolute path.
func (m *Manager) RestoreBackup(record Record) error {
	for _, original := range record.AffectedFiles {
		rel, err := relativeAffectedPath(original)
		if err != nil {
			return err
		}
		src := filepath.Join(record.BackupRootDir, rel)
		if err := os.MkdirAll(filepath.Dir(original), 0o755); err != nil {
			return fmt.Errorf("backup: create restore parent dir: %w", err)
		}
		if err := copyFileWithBackoff(src, original, restoreMaxRetries, restoreLinearStep); err != nil {
			return fmt.Errorf("backup: restore %s: %w", original, err)
		}
	}
	return nil
}

// Sweep walks Root and deletes any <date>/<id>/ entry with a readable
// metadata.json whose timestamp is older than retention.MaxAgeDays, or
// once the running backup count (newest-first) exceeds retention.MaxCount.
func (m *Manager) Sweep(retention Retention) error {
	type dated struct {
		dir string
		ts  time.Time
	}
	var all []dated

	dateDirs, err := os.ReadDir(m.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("backup: list root: %w", err)
	}
	for _, dateDir := range dateDirs {
		if !dateDir.IsDir() {
			continue
		}
		dateDirPath := filepath.Join(m.Root, dateDir.Name())
		idDirs, err := os.ReadDir(dateDirPath)
		if err != nil {
			continue
		}
		for _, idDir := range idDirs {
			if !idDir.IsDir() {
				continue
			}
			backupDir := filepath.Join(dateDirPath, idDir.Name())
			record, err := readMetadata(backupDir)
			if err != nil {
				continue
			}
			all = append(all, dated{dir: backupDir, ts: record.Timestamp})
		}
	}

	now := m.clock().Now()
	maxAge := time.Duration(retention.MaxAgeDays) * 24 * time.Hour

	// newest first, so MaxCount keeps the most recent backups
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].ts.After(all[i].ts) {
				all[i], all[j] = all[j], all[i]
			}
		}
	}

	for i, d := range all {
		expired := retention.MaxAgeDays > 0 && now.Sub(d.ts) > maxAge
		overCount := retention.MaxCount > 0 && i >= retention.MaxCount
		if expired || overCount {
			if err := os.RemoveAll(d.dir); err != nil {
				return fmt.Errorf("backup: sweep remove %s: %w", d.dir, err)
			}
		}
	}
	return nil
}

// Find locates a backup by id, scanning the date-bucketed directories under
// Root since the id alone doesn't name its date prefix.
func (m *Manager) Find(id string) (Record, error) {
	dateDirs, err := os.ReadDir(m.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, fmt.Errorf("backup: %q not found", id)
		}
		return Record{}, fmt.Errorf("backup: list root: %w", err)
	}
	for _, dateDir := range dateDirs {
		if !dateDir.IsDir() {
			continue
		}
		backupDir := filepath.Join(m.Root, dateDir.Name(), id)
		record, err := readMetadata(backupDir)
		if err != nil {
			continue
		}
		record.BackupRootDir = backupDir
		return record, nil
	}
	return Record{}, fmt.Errorf("backup: %q not found", id)
}

// Load reads the preserved copy of path from the backup identified by id,
// for kernel/command.ReferenceLoader.
func (m *Manager) Load(id, path string) (string, error) {
	record, err := m.Find(id)
	if err != nil {
		return "", err
	}
	rel, err := relativeAffectedPath(path)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(filepath.Join(record.BackupRootDir, rel))
	if err != nil {
		return "", fmt.Errorf("backup: read preserved copy of %s from %s: %w", path, id, err)
	}
	return string(raw), nil
}

func (m *Manager) clock() Clock {
	if m.Clock == nil {
		return systemClock{}
	}
	return m.Clock
}

func (m *Manager) newID() string {
	if m.NewID != nil {
		return m.NewID()
	}
	return strconv.FormatInt(m.clock().Now().UnixNano(), 36)
}

// relativeAffectedPath turns an absolute path into the relative layout
// component used beneath a backup directory, stripping any volume/drive
// prefix and leading separators so the copy never escapes the backup root.
func relativeAffectedPath(absPath string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean(absPath))
	clean = clean[len(filepath.VolumeName(absPath)):]
	for len(clean) > 0 && clean[0] == '/' {
		clean = clean[1:]
	}
	if clean == "" {
		return "", fmt.Errorf("backup: cannot derive relative path for %q", absPath)
	}
	return filepath.FromSlash(clean), nil
}

func writeMetadata(backupDir string, record Record) error {
	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("backup: marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(backupDir, "metadata.json"), raw, 0o644); err != nil {
		return fmt.Errorf("backup: write metadata: %w", err)
	}
	return nil
}

func readMetadata(backupDir string) (Record, error) {
	raw, err := os.ReadFile(filepath.Join(backupDir, "metadata.json"))
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}

func copyFileWithRetry(src, dst string) error {
	return copyFileWithBackoff(src, dst, copyMaxRetries, copyLinearStep)
}

// copyFileWithBackoff retries a plain file copy on transient failures using
// a fixed linear step, tolerating brief sharing violations from concurrent
// readers. backoff.NewConstantBackOff gives the fixed-step policy;
// Permanent wraps a terminal "file vanished" error so retry stops
// immediately instead of burning through the budget.
func copyFileWithBackoff(src, dst string, maxRetries int, step time.Duration) error {
	operation := func() (struct{}, error) {
		if err := copyFile(src, dst); err != nil {
			if os.IsNotExist(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}
	_, err := backoff.Retry(
		context.Background(),
		operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(step)),
		// WithMaxTries counts every attempt, so the first try plus
		// maxRetries retries.
		backoff.WithMaxTries(uint(maxRetries)+1),
	)
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
