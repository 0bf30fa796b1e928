// main.go
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"raid-system/config"
	"raid-system/handlers"
	"raid-system/models"
	"raid-system/monitoring"
	"raid-system/services"
	"raid-system/store"
	"raid-system/utils"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize store
	st, err := store.New(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	var monitor *monitoring.Monitor
	if cfg.EnableMetrics {
		monitor = monitoring.NewMonitor(redisClient, cfg.StreamKey)
	}

	// The chat-platform client (role lookups, DMs, summary redraws,
	// channel deletion) plugs in here; until it is wired these log-only
	// stubs keep the core runnable on its own.
	collab := &consoleCollaborators{}

	// Initialize services
	queueService := services.NewQueueService(redisClient, cfg, monitor)
	consumerService := services.NewConsumerService(redisClient, cfg, st, collab, collab, queueService, monitor)
	schedulerService, err := services.NewSchedulerService(redisClient, cfg, st, collab, collab, consumerService, monitor)
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	gateway := handlers.NewGateway(queueService, st, consumerService, schedulerService, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start background tasks
	go consumerService.Run(ctx)
	go gateway.RunSessionSweeper(ctx)

	schedulerService.Start()
	defer func() {
		if err := schedulerService.Shutdown(); err != nil {
			log.Printf("Scheduler shutdown: %v", err)
		}
	}()
	if err := schedulerService.RestoreSchedules(ctx); err != nil {
		log.Printf("Failed to restore schedules: %v", err)
	}

	if cfg.EnableMetrics {
		go serveMetrics(cfg.MetricsPort, redisClient)
	}

	log.Println("Raid coordinator started")
	waitForShutdown(cancel)
}

func serveMetrics(port string, redisClient *redis.Client) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := utils.RedisHealthCheck(redisClient); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Printf("Metrics server stopped: %v", err)
	}
}

// waitForShutdown handles graceful shutdown
func waitForShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}

// consoleCollaborators satisfies every external collaborator interface
// with log output.
type consoleCollaborators struct{}

func (consoleCollaborators) RoleIDsForUser(ctx context.Context, guildID, userID string) ([]string, error) {
	return nil, nil
}

func (consoleCollaborators) HasRoleNamed(ctx context.Context, guildID, userID, roleName string) (bool, error) {
	return false, nil
}

func (consoleCollaborators) SendDirectMessage(ctx context.Context, userID, text string) error {
	slog.Info("direct message", "user_id", userID, "text", text)
	return nil
}

func (consoleCollaborators) RedrawSummary(ctx context.Context, guildID string) error {
	slog.Info("summary redraw requested", "guild_id", guildID)
	return nil
}

func (consoleCollaborators) CleanupArtifacts(ctx context.Context, raid *models.Raid) error {
	slog.Info("artifact cleanup requested", "raid_id", raid.ID, "channel_id", raid.ChannelID)
	return nil
}
