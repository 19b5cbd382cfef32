package deadletter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/V4T54L/logvault/internal/domain"
)

const (
	segmentPrefix = "deadletter-"
	segmentSuffix = ".ndjson"
	filePerm      = 0o644
	maxLineBytes  = 4 << 20
)

// ErrDiskLimit is returned by Write when the store would exceed its size limit.
var ErrDiskLimit = errors.New("dead-letter store is full")

// Store is a segmented, append-only file of dead letters, one JSON object per
// line. Segments are numbered so directory order is write order.
type Store struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu        sync.Mutex
	segment   *os.File
	seq       int
	size      int64
	totalSize int64
}

// NewStore opens or creates a dead-letter store in dir.
func NewStore(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dead-letter directory %s: %w", dir, err)
	}
	s := &Store{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "dead_letter_store"),
	}
	if err := s.openTail(); err != nil {
		return nil, err
	}
	return s, nil
}

// Write appends letter and syncs it to disk.
func (s *Store) Write(ctx context.Context, letter domain.DeadLetter) error {
	line, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxTotalSize > 0 && s.totalSize+int64(len(line)) > s.maxTotalSize {
		return fmt.Errorf("%w (%d bytes used, limit %d)", ErrDiskLimit, s.totalSize, s.maxTotalSize)
	}
	if s.segment == nil {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.segment.Write(line)
	s.size += int64(n)
	s.totalSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to append dead letter: %w", err)
	}
	if err := s.segment.Sync(); err != nil {
		return fmt.Errorf("failed to sync dead-letter segment: %w", err)
	}

	if s.maxSegmentSize > 0 && s.size >= s.maxSegmentSize {
		if err := s.rotate(); err != nil {
			s.logger.Error("failed to rotate dead-letter segment", "error", err)
		}
	}
	return nil
}

// Replay calls handler for every stored letter in write order. Lines that do
// not decode are skipped. The first handler error stops the replay.
func (s *Store) Replay(ctx context.Context, handler func(letter domain.DeadLetter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	segments, err := s.segments()
	if err != nil {
		return err
	}
	for _, path := range segments {
		if err := s.replaySegment(ctx, path, handler); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) replaySegment(ctx context.Context, path string, handler func(letter domain.DeadLetter) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open dead-letter segment %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var letter domain.DeadLetter
		if err := json.Unmarshal(scanner.Bytes(), &letter); err != nil {
			s.logger.Warn("skipping unreadable dead letter", "segment", filepath.Base(path), "error", err)
			continue
		}
		if err := handler(letter); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read dead-letter segment %s: %w", path, err)
	}
	return nil
}

// Truncate removes every segment and starts a fresh one.
func (s *Store) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.segment != nil {
		_ = s.segment.Close()
		s.segment = nil
	}
	segments, err := s.segments()
	if err != nil {
		return err
	}
	var errs []error
	for _, path := range segments {
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to truncate dead letters: %w", err)
	}
	s.totalSize = 0
	s.logger.Info("dead-letter store truncated", "segments", len(segments))
	return s.rotate()
}

// Len counts the stored letters.
func (s *Store) Len(ctx context.Context) (int, error) {
	n := 0
	err := s.Replay(ctx, func(domain.DeadLetter) error {
		n++
		return nil
	})
	return n, err
}

// Close closes the open segment.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.segment == nil {
		return nil
	}
	err := s.segment.Close()
	s.segment = nil
	return err
}

func (s *Store) rotate() error {
	if s.segment != nil {
		if err := s.segment.Close(); err != nil {
			s.logger.Error("failed to close dead-letter segment", "error", err)
		}
		s.segment = nil
	}
	s.seq++
	path := filepath.Join(s.dir, segmentName(s.seq))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create dead-letter segment %s: %w", path, err)
	}
	s.segment = f
	s.size = 0
	return nil
}

// openTail reopens the newest segment so a restart keeps appending to it.
func (s *Store) openTail() error {
	segments, err := s.segments()
	if err != nil {
		return err
	}
	for _, path := range segments {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat dead-letter segment %s: %w", path, err)
		}
		s.totalSize += info.Size()
	}
	if len(segments) == 0 {
		return s.rotate()
	}

	tail := segments[len(segments)-1]
	s.seq = segmentSeq(filepath.Base(tail))
	info, err := os.Stat(tail)
	if err != nil {
		return fmt.Errorf("failed to stat dead-letter segment %s: %w", tail, err)
	}
	f, err := os.OpenFile(tail, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open dead-letter segment %s: %w", tail, err)
	}
	s.segment = f
	s.size = info.Size()
	if s.pending() {
		s.logger.Warn("dead letters pending replay", "bytes", s.totalSize)
	}
	if s.maxSegmentSize > 0 && s.size >= s.maxSegmentSize {
		return s.rotate()
	}
	return nil
}

func (s *Store) pending() bool {
	return s.totalSize > 0
}

func (s *Store) segments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read dead-letter directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

func segmentName(seq int) string {
	return fmt.Sprintf("%s%010d%s", segmentPrefix, seq, segmentSuffix)
}

func segmentSeq(name string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix))
	if err != nil {
		return 0
	}
	return n
}
