package main

import (
	"fmt"

	"github.com/emotionsim/engine/internal/obslog"
)

// initLogger installs the process-wide default logger via obslog, the same
// filtering-handler logger the engine itself uses.
func initLogger(level string) error {
	lvl, err := obslog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	obslog.Init(obslog.Options{Level: lvl})
	return nil
}
