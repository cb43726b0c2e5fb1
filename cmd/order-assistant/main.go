package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"order-assistant/internal/app/assistant"
	"order-assistant/internal/common/config"
	"order-assistant/internal/common/logger"
)

func main() {
	cfgPath := flag.String("config", "", "path to config.yaml (default: probe config.yaml, deploy/config.example.yaml)")
	port := flag.Int("port", 0, "http port, overrides the config value")
	flag.Parse()

	lg := logger.New("bootstrap")

	path := *cfgPath
	if path == "" {
		var err error
		path, err = config.FindConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, "no config file found; pass --config")
			os.Exit(2)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", path, err)
		os.Exit(2)
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lg.Info("service_started", map[string]any{"service": "order-assistant", "config": path, "port": cfg.HTTP.Port})
	if err := assistant.Run(ctx, cfg); err != nil {
		lg.Error("fatal", err, nil)
		os.Exit(1)
	}
}
