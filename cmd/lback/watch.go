package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/GriffinCanCode/lback/pkg/config"
	"github.com/GriffinCanCode/lback/pkg/logger"
)

// debounce groups the events of a single save
const debounce = 100 * time.Millisecond

func watchCmd(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	fs.Parse(args)

	inputs := fs.Args()
	if len(inputs) == 0 {
		return errors.New("no input file")
	}
	cfg, err := common.setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return watch(ctx, cfg, inputs)
}

// watch compiles inputs once, then again whenever one of them is written.
// The parent directories are watched, not the files themselves.
func watch(ctx context.Context, cfg *config.Config, inputs []string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	watched := make(map[string]bool)
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return err
		}
		watched[abs] = true
		if err := w.Add(filepath.Dir(abs)); err != nil {
			return err
		}
	}

	rebuild := func(files []string) {
		if err := compileAll(ctx, cfg, files, ""); err != nil && !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	rebuild(inputs)
	logger.Info("Watching for changes", "files", len(inputs))

	pending := make(map[string]bool)
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !watched[ev.Name] || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("Module changed", "file", ev.Name, "op", ev.Op.String())
			pending[ev.Name] = true
			timer.Reset(debounce)
		case <-timer.C:
			var files []string
			for f := range pending {
				files = append(files, f)
			}
			clear(pending)
			slices.Sort(files)
			rebuild(files)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error", "error", err)
		}
	}
}
