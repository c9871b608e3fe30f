package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	trafficcmd "github.com/louisbranch/storepulse/internal/cmd/traffic"
)

func main() {
	cfg, err := trafficcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[TRAFFIC] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := trafficcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
