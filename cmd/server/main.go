package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lintsukishima/Gateway-github-2/internal/config"
	"github.com/Lintsukishima/Gateway-github-2/internal/constants"
	"github.com/Lintsukishima/Gateway-github-2/internal/logging"
	"github.com/Lintsukishima/Gateway-github-2/internal/monitoring/tracing"
	"github.com/Lintsukishima/Gateway-github-2/internal/retrieval"
	"github.com/Lintsukishima/Gateway-github-2/internal/server"
	"github.com/Lintsukishima/Gateway-github-2/internal/store"
	"github.com/Lintsukishima/Gateway-github-2/internal/summarizer"
	"github.com/Lintsukishima/Gateway-github-2/internal/version"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config overlay (env wins)")
	debug := flag.Bool("debug", false, "force debug logging")
	flag.Parse()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if *debug {
		cfg.Debug = true
	}
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("setup logging")
	}

	shutdownTracing := tracing.Init(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.WithError(err).Warn("tracing shutdown")
		}
	}()

	deps := server.Dependencies{
		Cache:  retrieval.NewContextCache(cfg.CacheTTL, cfg.CacheMax),
		Anchor: retrieval.NewAnchorClient(cfg),
	}

	// 没配 DSN 就以无持久化模式跑：检索与代理可用，摘要与 CRUD 降级
	if cfg.PostgresDSN != "" {
		st, err := store.New(cfg.PostgresDSN)
		if err != nil {
			log.WithError(err).Fatal("connect postgres")
		}
		defer st.Close()
		deps.Store = st
		deps.Engine = summarizer.New(cfg, st)
	} else {
		log.Warn("POSTGRES_DSN not set, running without persistence")
	}

	engine := server.Build(cfg, deps)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: engine,
	}

	go func() {
		log.WithFields(log.Fields{
			"version":   version.Version,
			"addr":      srv.Addr,
			"base_path": cfg.BasePath,
		}).Info("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
