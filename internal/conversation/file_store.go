package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	filePrefix = "user_"
	fileSuffix = ".json"
)

// FileStore keeps one indented JSON file per user per day:
// <dir>/user_<id>_<YYYY-MM-DD>.json.
type FileStore struct {
	dir    string
	logger zerolog.Logger
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversations dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) path(key Key) string {
	return filepath.Join(s.dir, filePrefix+key.UserID+"_"+key.Date+fileSuffix)
}

// Get reads the log file for key.
func (s *FileStore) Get(_ context.Context, key Key) ([]Turn, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read conversation %s: %w", key, err)
	}

	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", key, err)
	}
	return turns, nil
}

// Set writes the log file for key, replacing it atomically.
func (s *FileStore) Set(_ context.Context, key Key, turns []Turn) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if turns == nil {
		turns = []Turn{}
	}

	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".conv-*")
	if err != nil {
		return fmt.Errorf("write conversation %s: %w", key, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write conversation %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write conversation %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("write conversation %s: %w", key, err)
	}
	return nil
}

// Delete removes the log file for key.
func (s *FileStore) Delete(_ context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	err := os.Remove(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete conversation %s: %w", key, err)
	}
	return true, nil
}

// PurgeBefore removes log files dated before cutoff. Files that do not look
// like conversation logs are left alone.
func (s *FileStore) PurgeBefore(_ context.Context, cutoff string) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		date, ok := dateFromFilename(e.Name())
		if !ok || date >= cutoff {
			continue
		}

		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Err(err).Str("file", e.Name()).Msg("failed to remove old conversation")
			continue
		}
		s.logger.Info().Str("file", e.Name()).Msg("removed old conversation")
		removed++
	}
	return removed, nil
}

// dateFromFilename extracts the date from user_<id>_<date>.json. The date is
// taken from the end so ids containing underscores still parse.
func dateFromFilename(name string) (string, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return "", false
	}
	stem := strings.TrimSuffix(name, fileSuffix)
	i := strings.LastIndexByte(stem, '_')
	if i < len(filePrefix) {
		return "", false
	}
	date := stem[i+1:]
	if _, err := time.Parse(DateLayout, date); err != nil {
		return "", false
	}
	return date, true
}
