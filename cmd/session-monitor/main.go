// session-monitor runs a single health check against the latest sync
// session: a stalled in_progress session is re-signaled at its current
// batch, a failed or idle state is just reported. Intended for a scheduler
// (Cloud Scheduler, cron) in deployments that do not run the in-service
// monitor loop.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/session-monitor
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
	"bitbucket.org/mmdatafocus/stocksync_backend/stocksync"
	"bitbucket.org/mmdatafocus/stocksync_backend/utils"
)

func main() {
	ctx := context.Background()
	logger := config.GetLogger()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	var signaler stocksync.ContinuationSignaler
	if utils.EnvBool("SYNC_PUBSUB_ENABLED", true) {
		signaler = stocksync.PubSubSignaler{}
	}

	settings := stocksync.SettingsFromEnv()
	monitor := stocksync.NewSessionMonitor(stocksync.NewStores(), signaler, settings.StuckThreshold, logger)

	resp, err := monitor.Check(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "monitor check failed: %v\n", err)
		os.Exit(1)
	}

	if resp.Session == nil {
		fmt.Println("state=idle (no sessions)")
		return
	}
	fmt.Printf("state=%s session=%d status=%s batch=%d/%d processed=%d\n",
		resp.State, resp.Session.ID, resp.Session.Status,
		resp.Session.CurrentBatch, resp.Session.TotalBatches, resp.Session.ProcessedSkus)
	if resp.State == stocksync.MonitorStateFailed {
		os.Exit(2)
	}
}
