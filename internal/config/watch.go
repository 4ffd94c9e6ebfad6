package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch reloads the dynamic tunables whenever the config file is rewritten.
// Editors and configmap mounts fire bursts of events per save, so reloads
// are debounced. Watch blocks until ctx is canceled.
func Watch(ctx context.Context, path string, dyn *Dynamic) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(path); err != nil {
		return err
	}

	const debounce = 200 * time.Millisecond
	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			cfg, err := Load(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("Config reload failed, keeping previous tunables")
				continue
			}
			dyn.Store(cfg)
			log.Info().
				Float64("similarity_threshold", cfg.Assignment.SimilarityThreshold).
				Float64("distance_threshold", cfg.Clustering.DistanceThreshold).
				Msg("Reloaded dynamic tunables")

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}
