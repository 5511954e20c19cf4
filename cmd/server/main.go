package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"leaderboard/internal/api"
	"leaderboard/internal/auditlog"
	"leaderboard/internal/config"
	"leaderboard/internal/ranking"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("💡 no .env file found, using environment variables only")
	} else {
		log.Println("✅ loaded environment from .env")
	}

	log.Println("🏆 ================================")
	log.Println("🏆  LEADERBOARD - RANKED INDEX SERVICE")
	log.Println("🏆 ================================")

	appConfig := config.Load()

	var index api.IndexInterface
	var snapshotIdx *ranking.SnapshotIndex
	switch appConfig.Index.Backend {
	case config.BackendSnapshot:
		snapshotIdx = ranking.NewSnapshotIndex(time.Duration(appConfig.Index.SnapshotTickMs) * time.Millisecond)
		snapshotIdx.Start()
		index = snapshotIdx
		log.Printf("🏆 leaderboard core: snapshot index ready (tick=%dms)", appConfig.Index.SnapshotTickMs)
	default:
		index = ranking.NewBucketedIndex()
		log.Printf("🏆 leaderboard core: bucketed index ready (%d buckets)", ranking.NumBuckets)
	}

	auditLog := auditlog.New(appConfig.Audit)
	if err := auditLog.Start(); err != nil {
		log.Printf("⚠️ audit log disabled: %v", err)
	} else if appConfig.Audit.Enabled {
		log.Printf("📡 audit log: %s", appConfig.Audit.Path)
	}
	recordingIndex := &recordingIndex{inner: index, audit: auditLog}

	debugCfg := api.DefaultDebugServerConfig()
	if os.Getenv("DISABLE_DEBUG_SERVER") != "true" {
		if err := api.StartDebugServer(debugCfg); err != nil {
			log.Printf("⚠️ debug server disabled: %v", err)
		}
	}

	enableFeed := os.Getenv("DISABLE_FEED") != "true"
	server := api.NewServer(recordingIndex, appConfig, enableFeed)

	addr := ":" + strconv.Itoa(appConfig.Server.Port)
	go func() {
		log.Printf("📡 HTTP API on http://localhost%s", addr)
		if err := server.Start(addr); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🏆 shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ shutdown error: %v", err)
	}
	if snapshotIdx != nil {
		snapshotIdx.Stop()
	}
	auditLog.Stop()
	log.Println("✅ goodbye")
}

// recordingIndex wraps an Index to additionally feed the audit log on
// every update, keeping the ranking package itself free of any logging
// concern — the core index has no fallible, side-effecting operations.
type recordingIndex struct {
	inner api.IndexInterface
	audit *auditlog.Log
}

func (r *recordingIndex) Update(customerID, delta int64) int64 {
	newScore := r.inner.Update(customerID, delta)
	r.audit.Record(customerID, delta, newScore)
	return newScore
}

func (r *recordingIndex) RanksByRange(start, end int) []ranking.RankedEntry {
	return r.inner.RanksByRange(start, end)
}

func (r *recordingIndex) RanksByCustomer(customerID int64, high, low int) []ranking.RankedEntry {
	return r.inner.RanksByCustomer(customerID, high, low)
}
