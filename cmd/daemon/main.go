package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"trustmesh/go-backend/internal/bootstrap/netconfig"
	"trustmesh/go-backend/internal/composition/daemon"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for daemon local data (optional)")
	transport := flag.String("transport", "", "Network transport override: go-waku | memory")
	flag.Parse()
	if *showVersion {
		fmt.Printf("trustmesh-daemon version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *dataDir != "" {
		_ = os.Setenv("TRUSTMESH_DATA_DIR", *dataDir)
	}
	if *transport != "" {
		_ = os.Setenv("TRUSTMESH_NETWORK_TRANSPORT", *transport)
	}

	settings := netconfig.LoadFromPath(*configPath)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	d, err := daemon.New(settings, nil, logger)
	if err != nil {
		log.Fatalf("trustmesh-daemon failed to initialize: %v", err)
	}

	log.Println("trustmesh-daemon starting")
	if err := d.Run(ctx); err != nil {
		log.Fatalf("trustmesh-daemon failed: %v", err)
	}
	log.Println("trustmesh-daemon stopped")
}
