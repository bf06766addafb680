package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lokutor-ai/lokutor-gateway/internal/server"
	"github.com/lokutor-ai/lokutor-gateway/pkg/config"
	"github.com/lokutor-ai/lokutor-gateway/pkg/factory"
	"github.com/lokutor-ai/lokutor-gateway/pkg/gateway"
	"github.com/lokutor-ai/lokutor-gateway/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: no .env file found, using system environment variables")
	}

	defaultConfigPath := flag.String("config", "config.yaml", "path to the default configuration file")
	overrideConfigPath := flag.String("override", "data/.config.yaml", "path to a machine-local override config file")
	wsPath := flag.String("ws-path", "/", "path to mount the WebSocket handler on")
	flag.Parse()

	cfg, err := config.Load(*defaultConfigPath, *overrideConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:     cfg.Log.Level,
		LogDir:    cfg.Log.LogDir,
		Component: "Gateway",
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	registry := gateway.NewRegistry()
	gwCfg := gateway.DefaultConfig()

	var vadModel gateway.VADModel
	if cfg.SelectedModule.VAD != "" {
		m, err := factory.VADModel(cfg, cfg.SelectedModule.VAD)
		if err != nil {
			log.Fatalf("failed to build VAD model %q: %v", cfg.SelectedModule.VAD, err)
		}
		vadModel = m
	}

	build := func(sessionLogger gateway.Logger) gateway.Providers {
		providers := gateway.Providers{}

		if cfg.SelectedModule.ASR != "" {
			asrFactory, err := factory.ASRFactory(cfg, cfg.SelectedModule.ASR, sessionLogger)
			if err != nil {
				logger.Error("failed to build ASR factory", "provider", cfg.SelectedModule.ASR, "err", err)
			} else {
				providers.NewASR = asrFactory
			}
		}

		if cfg.SelectedModule.LLM != "" {
			llmProvider, err := factory.LLMProvider(cfg, cfg.SelectedModule.LLM)
			if err != nil {
				logger.Error("failed to build LLM provider", "provider", cfg.SelectedModule.LLM, "err", err)
			} else {
				providers.LLM = llmProvider
			}
		}

		if cfg.SelectedModule.TTS != "" {
			ttsProvider, err := factory.TTSProvider(cfg, cfg.SelectedModule.TTS, sessionLogger)
			if err != nil {
				logger.Error("failed to build TTS provider", "provider", cfg.SelectedModule.TTS, "err", err)
			} else {
				providers.TTS = ttsProvider
			}
		}

		if vadModel != nil {
			providers.VAD = gateway.NewHysteresisVAD(vadModel.Clone(), gwCfg)
		}

		return providers
	}

	srv := server.New(gwCfg, logger, registry, build)

	mux := http.NewServeMux()
	mux.Handle(*wsPath, srv.Handler())

	addr := cfg.Server.IP
	if addr == "" {
		addr = "0.0.0.0"
	}
	port := cfg.Server.Port
	if port == 0 {
		port = 8765
	}

	httpServer := &http.Server{
		Addr:    formatAddr(addr, port),
		Handler: mux,
	}

	go func() {
		logger.Info("gateway listening", "addr", httpServer.Addr, "path", *wsPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down", "reason", "signal received")
	registry.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

func formatAddr(ip string, port int) string {
	return ip + ":" + strconv.Itoa(port)
}
