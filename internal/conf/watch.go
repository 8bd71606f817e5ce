package conf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const promptsReloadDelay = 250 * time.Millisecond

// WatchPrompts watches the prompts file and calls onChange with the freshly
// parsed config after each write. Invalid files are logged and skipped.
// It blocks until ctx is done.
func WatchPrompts(ctx context.Context, path string, log zerolog.Logger, onChange func(*PromptsConfig)) error {
	if path == "" {
		return fmt.Errorf("prompts path is empty")
	}
	log = log.With().Str("component", "prompts-watch").Str("path", path).Logger()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	// editors often replace the file, so watch the directory
	dir, file := filepath.Dir(path), filepath.Base(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	reload := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(promptsReloadDelay, func() {
			cfg, err := ReadPromptsFile(path)
			if err != nil {
				log.Warn().Err(err).Msg("prompts reload failed, keeping previous config")
				return
			}
			log.Info().Msg("prompts reloaded")
			onChange(cfg)
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	log.Debug().Msg("prompts watcher started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("prompts watch error")
		}
	}
}

// ReadPromptsFile parses a single prompts file
func ReadPromptsFile(path string) (*PromptsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	cfg, err := ParsePromptsConfig(data)
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	return cfg, nil
}
