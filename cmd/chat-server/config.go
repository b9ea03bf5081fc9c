package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

type config struct {
	Debug              bool      `json:"debug"`
	Listen             string    `json:"listen"`
	MaxLineBytes       int       `json:"max_line_bytes"`
	ShutdownTimeoutSec int       `json:"shutdown_timeout_sec"`
	Accept             acceptCnf `json:"accept"`
	HTTP               httpCnf   `json:"http"`
	Pipe               pipeCnf   `json:"pipe"`
	Log                logCnf    `json:"log"`
}

type acceptCnf struct {
	RatePerSecond float64 `json:"rate_per_second"`
	Burst         int     `json:"burst"`
}

type httpCnf struct {
	Enabled        bool     `json:"enabled"`
	Listen         string   `json:"listen"`
	WebSocket      bool     `json:"websocket"`
	OriginPatterns []string `json:"origin_patterns"`
}

type pipeCnf struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type logCnf struct {
	File       string `json:"file"`
	MaxAgeDays int    `json:"max_age_days"`
	MaxSizeMB  int    `json:"max_size_mb"`
}

func defaultConfig() config {
	return config{
		Listen:             "127.0.0.1:8080",
		MaxLineBytes:       64 * 1024,
		ShutdownTimeoutSec: 10,
		Accept: acceptCnf{
			RatePerSecond: 50,
			Burst:         20,
		},
		HTTP: httpCnf{
			Enabled:   true,
			Listen:    "127.0.0.1:8081",
			WebSocket: true,
		},
		Pipe: pipeCnf{
			Enabled: false,
			Path:    `\\.\pipe\chat-relay`,
		},
		Log: logCnf{
			File:       appName + ".log",
			MaxAgeDays: 14,
			MaxSizeMB:  50,
		},
	}
}

func (c config) shutdownTimeout() time.Duration {
	if c.ShutdownTimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

func (c acceptCnf) limiter() *rate.Limiter {
	if c.RatePerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.RatePerSecond), max(c.Burst, 1))
}

func prettyJson(data any) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	err := enc.Encode(data)
	return buf.Bytes(), err
}

// readAndUpdateConfig reads the config at path, filling in defaults for
// missing keys, and writes the completed config back so new options show
// up in the file.
func readAndUpdateConfig(path string) (config, error) {
	cnf := defaultConfig()

	writeConfigIndented := func(cnf config) error {
		data, err := prettyJson(cnf)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0640)
	}

	configContent, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := writeConfigIndented(cnf); err != nil {
				return cnf, err
			}
			return cnf, nil
		}
		return cnf, err
	}
	if err := json.Unmarshal(configContent, &cnf); err != nil {
		return cnf, err
	}
	if err := writeConfigIndented(cnf); err != nil {
		return cnf, err
	}
	return cnf, nil
}

// configReloadDelay collapses the burst of write events an editor produces
// into a single reload.
var configReloadDelay = time.Second

// watchForConfigChanges calls onChange with the re-read config once the file
// at path has been quiet for configReloadDelay after a write.
func watchForConfigChanges(ctx context.Context, watcher *fsnotify.Watcher, path string, logger *slog.Logger, onChange func(config)) error {
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	reload := func() {
		if ctx.Err() != nil {
			return
		}
		logger.Info("config file changed, reloading")
		cnf, err := readConfigOnly(path)
		if err != nil {
			logger.Warn("reading the configuration yielded an error", slog.Any("err", err))
			return
		}
		onChange(cnf)
	}

	go func() {
		var pending *time.Timer
		defer func() {
			if pending != nil {
				pending.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if !strings.EqualFold(filepath.Base(event.Name), filepath.Base(path)) {
					continue
				}
				if pending == nil {
					pending = time.AfterFunc(configReloadDelay, reload)
				} else {
					pending.Reset(configReloadDelay)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("fsnotify received an error", slog.Any("err", err))
			}
		}
	}()
	return nil
}

// readConfigOnly is readAndUpdateConfig without the write back, so a reload
// does not trigger another write event.
func readConfigOnly(path string) (config, error) {
	cnf := defaultConfig()
	configContent, err := os.ReadFile(path)
	if err != nil {
		return cnf, err
	}
	err = json.Unmarshal(configContent, &cnf)
	return cnf, err
}
