package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shapefinder/internal/logger"
	"shapefinder/internal/shapeengine"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	issue := flag.String("issue-token", "", "Print a control token for this subject and exit")
	ttl := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of an issued control token")
	flag.Parse()

	cfg, err := shapeengine.LoadConfig()
	if err != nil {
		log.Fatalf("[shapeengine] config: %v", err)
	}
	if *issue != "" {
		tok, err := shapeengine.IssueControlToken(cfg.ControlSecret, *issue, *ttl)
		if err != nil {
			log.Fatalf("[shapeengine] %v", err)
		}
		fmt.Println(tok)
		return
	}
	logger.Init("shapeengine", cfg.LogLevel)
	log.Printf("[shapeengine] enabled TFs: %v, snapshot interval: %ds, overrides: %d",
		cfg.EnabledTFs, cfg.SnapshotIntervalS, cfg.Overrides.Len())

	svc, err := shapeengine.New(cfg)
	if err != nil {
		log.Fatalf("[shapeengine] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[shapeengine] fatal: %v", err)
	}
}
