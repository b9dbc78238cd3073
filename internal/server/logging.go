/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package server

import (
	"fmt"
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging configures the standard log package to write rotated log
// files, grounded on tdns/logging.go's SetupLogging: same flag set
// (Lshortfile|Ltime) and the same lumberjack rotation policy (20MB per
// file, 3 backups, 14 days).
func SetupLogging(logfile string) error {
	log.SetFlags(log.Lshortfile | log.Ltime)
	if logfile == "" {
		return fmt.Errorf("server: log.file must be set")
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   logfile,
		MaxSize:    20,
		MaxBackups: 3,
		MaxAge:     14,
	})
	return nil
}
