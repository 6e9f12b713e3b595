package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SequentialRotator is an io.Writer over a log file that rolls the file to
// <name>.<n>.log once it exceeds maxSize, keeping at most maxBackups rolled
// files no older than maxAge days.
type SequentialRotator struct {
	filename   string
	maxSize    int64
	maxAge     int
	maxBackups int

	mu   sync.Mutex
	file *os.File
	size int64
}

func NewSequentialRotator(filename string, maxSizeMB, maxAgeDays, maxBackups int) *SequentialRotator {
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	return &SequentialRotator{
		filename:   filename,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxAge:     maxAgeDays,
		maxBackups: maxBackups,
	}
}

// Write implements io.Writer
func (r *SequentialRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.openFile(); err != nil {
			return 0, err
		}
	}
	if r.size > 0 && r.size+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Sync implements zapcore.WriteSyncer
func (r *SequentialRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

func (r *SequentialRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *SequentialRotator) openFile() error {
	if err := os.MkdirAll(filepath.Dir(r.filename), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(r.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	r.file = file
	r.size = info.Size()
	return nil
}

func (r *SequentialRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return err
	}
	r.file = nil

	base := strings.TrimSuffix(r.filename, ".log")
	rotated := fmt.Sprintf("%s.%d.log", base, r.maxSequence()+1)
	if err := os.Rename(r.filename, rotated); err != nil {
		return err
	}
	r.cleanup()

	r.size = 0
	return r.openFile()
}

type rolledFile struct {
	path    string
	seq     int
	modTime time.Time
}

// rolled lists rotated siblings of the current file, newest sequence first.
func (r *SequentialRotator) rolled() []rolledFile {
	base := strings.TrimSuffix(filepath.Base(r.filename), ".log")
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(r.filename), base+".*.log"))
	if err != nil {
		return nil
	}

	var files []rolledFile
	for _, path := range matches {
		parts := strings.Split(filepath.Base(path), ".")
		if len(parts) < 3 {
			continue
		}
		seq, err := strconv.Atoi(parts[len(parts)-2])
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		files = append(files, rolledFile{path: path, seq: seq, modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].seq > files[j].seq })
	return files
}

func (r *SequentialRotator) maxSequence() int {
	files := r.rolled()
	if len(files) == 0 {
		return 0
	}
	return files[0].seq
}

func (r *SequentialRotator) cleanup() {
	files := r.rolled()
	if r.maxBackups > 0 && len(files) > r.maxBackups {
		for _, f := range files[r.maxBackups:] {
			_ = os.Remove(f.path)
		}
		files = files[:r.maxBackups]
	}
	if r.maxAge > 0 {
		cutoff := time.Now().AddDate(0, 0, -r.maxAge)
		for _, f := range files {
			if f.modTime.Before(cutoff) {
				_ = os.Remove(f.path)
			}
		}
	}
}
