package main

import (
	"context"
	"flag"
	"net/http"
	"os"

	"github.com/mbeoliero/kit/log"

	"github.com/lotmarket/chatsync/internal/config"
	"github.com/lotmarket/chatsync/internal/devserver"
)

func main() {
	ctx := context.Background()

	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.CtxError(ctx, "failed to load config: %v", err)
		panic(err)
	}

	state := devserver.SeedState()
	srv := devserver.New(cfg.DevServer, state)

	log.CtxInfo(ctx, "dev backend listening on %s (seeded accounts: u_anna / u_boris, password %q)",
		cfg.DevServer.Addr, devserver.SeedPassword)

	if err := http.ListenAndServe(cfg.DevServer.Addr, srv.Handler()); err != nil {
		log.CtxError(ctx, "serve: %v", err)
		panic(err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}
