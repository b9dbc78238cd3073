/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsd-project/nsd/internal/config"
	"github.com/nsd-project/nsd/internal/server"
)

const defaultCfgFile = "/etc/nsd/nsd.yaml"

// shutdownGrace bounds how long Shutdown waits for in-flight zone executors
// to drain before aborting, spec §5's "hard deadline then aborts".
const shutdownGrace = 10 * time.Second

func main() {
	flags, err := config.ParseFlags(defaultCfgFile, os.Args[1:])
	if err != nil {
		log.Fatalf("nsd: flag parse: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(flags.CfgFile)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("nsd: startup failed: %v", err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := srv.Reload(); err != nil {
					log.Printf("nsd: SIGHUP reload failed: %v", err)
				}
			}
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("nsd: shutdown signal received, draining zones")
	case <-srv.Done():
		log.Println("nsd: stop requested via control protocol, draining zones")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	srv.Shutdown(sctx)
}
