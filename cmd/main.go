package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Herobone/stream-scorer/internal/config"
	"github.com/Herobone/stream-scorer/internal/server"
	"github.com/Herobone/stream-scorer/internal/telemetry"
)

func main() {
	c, err := loadConfig()
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	if err := telemetry.SetupLogger(os.Stdout, c.Log.Level, c.Log.Format); err != nil {
		log.Fatalf("Setup logger failed: %v", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		log.Fatalf("Init server failed: %v", err)
	}

	go s.Start()

	<-shutdown
	s.Shutdown()
}

// loadConfig reads CONFIG_PATH when set, SCORER_* environment variables override it.
func loadConfig() (server.Config, error) {
	c := server.DefaultConfig()

	if err := config.Load(os.Getenv("CONFIG_PATH"), &c, config.WithEnvPrefix("SCORER")); err != nil {
		return c, err
	}

	return c, nil
}
