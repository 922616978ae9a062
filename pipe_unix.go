//go:build unix

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
)

// openPipe opens path as a named pipe for writing, creating the FIFO if
// it does not exist yet. It blocks until a reader connects. The returned
// cleanup closes the pipe and removes it from the filesystem.
func openPipe(path string, logger *slog.Logger) (*os.File, func(), error) {
	if err := syscall.Mkfifo(path, 0600); err != nil {
		if !errors.Is(err, syscall.EEXIST) {
			return nil, nil, fmt.Errorf("mkfifo: %w", err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, nil, err
		}
		if info.Mode()&os.ModeNamedPipe == 0 {
			return nil, nil, fmt.Errorf("%s exists and is not a named pipe", path)
		}
	}
	logger.Info("waiting for trace reader", "pipe", path)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		_ = os.Remove(path)
		return nil, nil, fmt.Errorf("open pipe: %w", err)
	}
	logger.Info("trace reader connected", "pipe", path)
	return f, func() {
		_ = f.Close()
		_ = os.Remove(path)
	}, nil
}
