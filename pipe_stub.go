//go:build !unix

package main

import (
	"errors"
	"log/slog"
	"os"
)

func openPipe(_ string, _ *slog.Logger) (*os.File, func(), error) {
	return nil, nil, errors.New("named pipes are not supported on this platform")
}
