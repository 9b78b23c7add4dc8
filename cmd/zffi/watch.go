package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watch re-runs the report whenever the declaration file is written or
// replaced. It watches the directory so editors that rename over the file
// are seen too.
func watch(o options, logger *zap.Logger, w io.Writer) error {
	wt, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer wt.Close()

	target, err := filepath.Abs(o.file)
	if err != nil {
		return err
	}
	if err := wt.Add(filepath.Dir(target)); err != nil {
		return err
	}
	logger.Debug("watching", zap.String("file", target))

	for {
		select {
		case ev, ok := <-wt.Events:
			if !ok {
				return nil
			}
			if p, _ := filepath.Abs(ev.Name); p != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			fmt.Fprintf(w, "-- %s changed\n", o.file)
			if err := run(o, logger, w); err != nil {
				fmt.Fprintln(w, "zffi:", err)
			}
		case err, ok := <-wt.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		}
	}
}
