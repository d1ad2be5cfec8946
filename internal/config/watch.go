package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads path into h whenever the file is written or replaced.
// Invalid edits are logged and the previous config is kept.
func Watch(ctx context.Context, path string, h *Holder) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory so editors that rename-over the file are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					pending = time.After(reloadDebounce)
				}
			case <-pending:
				pending = nil
				reload(path, h)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}

func reload(path string, h *Holder) {
	cfg, err := Load(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("config reload rejected, keeping previous settings")
		return
	}
	h.Store(cfg)
	log.Info().
		Str("path", path).
		Dur("settle_delay", cfg.Pipeline.SettleDelay).
		Dur("interval", cfg.Pipeline.Interval).
		Int("max_attempts", cfg.Pipeline.MaxAttempts).
		Strs("labels", cfg.Pipeline.Labels).
		Msg("config reloaded")
}
