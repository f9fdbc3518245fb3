package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rtp-header-probe/internal/api"
	"rtp-header-probe/internal/config"
	"rtp-header-probe/internal/probe"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	bindIP := net.ParseIP(cfg.BindIP)
	if bindIP == nil {
		log.Fatalf("invalid bind ip: %s", cfg.BindIP)
	}
	log.Printf("bind_ip=%s probe_ports=%d-%d", cfg.BindIP, cfg.ProbePortMin, cfg.ProbePortMax)

	allocator, err := probe.NewPortAllocator(cfg.ProbePortMin, cfg.ProbePortMax)
	if err != nil {
		log.Fatalf("failed to init port allocator: %v", err)
	}
	policy := probe.PacketLogPolicy{
		Enabled: cfg.PacketLog,
		SampleN: cfg.PacketLogSampleN,
		OnError: cfg.PacketLogOnError,
	}
	manager := probe.NewManager(allocator, bindIP, policy, time.Duration(cfg.IdleTimeoutSec)*time.Second)
	handler := api.NewHandler(cfg, manager)

	mux := http.NewServeMux()
	handler.Register(mux)

	server := &http.Server{
		Addr:              cfg.APIListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go manager.Run(ctx, time.Duration(cfg.StatsLogIntervalSec)*time.Second)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("starting http server on %s", cfg.APIListenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
	manager.CloseAll()
	log.Printf("shutdown complete")
}
