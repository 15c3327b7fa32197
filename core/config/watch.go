package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoggingLevelFunc receives the logging level read from a changed config file.
type LoggingLevelFunc func(level string)

// Watch re-reads the YAML file on change and reports logging.level to onLevel.
// Other sections are not hot-reloaded. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onLevel LoggingLevelFunc, onErr func(error)) error {
	if path == "" || onLevel == nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	// editors replace files on save, so the directory is watched instead
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			level, err := readLoggingLevel(path)
			if err != nil {
				if onErr != nil {
					onErr(err)
				}
				continue
			}
			onLevel(level)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if onErr != nil {
				onErr(err)
			}
		}
	}
}

func readLoggingLevel(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config reload: %w", err)
	}
	var partial struct {
		Logging struct {
			Level string `yaml:"level"`
		} `yaml:"logging"`
	}
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return "", fmt.Errorf("config reload: %w", err)
	}
	return partial.Logging.Level, nil
}
