// Package scheduler
package scheduler

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// newSchedulerLogger builds a logger writing to stdout and a rotated file
// under dir. Falls back to stdout only when the directory cannot be created.
func newSchedulerLogger(name, dir string) *log.Logger {
	flags := log.LstdFlags | log.Lmicroseconds | log.LUTC
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger := log.New(os.Stdout, name+" ", flags)
		logger.Printf("%s: failed to create log dir %s: %v", name, dir, err)
		return logger
	}

	rotated := &lumberjack.Logger{
		Filename:   filepath.Join(dir, name+".log"),
		MaxSize:    100, // MB
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
	return log.New(io.MultiWriter(os.Stdout, rotated), name+" ", flags)
}
