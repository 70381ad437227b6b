package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nuid"
	"github.com/tasksync/backend/internal/app/calendar"
	"github.com/tasksync/backend/internal/app/identity"
	"github.com/tasksync/backend/internal/app/syncer"
	"github.com/tasksync/backend/internal/app/tasks"
	"github.com/tasksync/backend/internal/app/webapi"
	"github.com/tasksync/backend/internal/mqttbus"
	"github.com/tasksync/backend/internal/platform/auth"
	"github.com/tasksync/backend/internal/platform/dbpool"
	"github.com/tasksync/backend/internal/platform/env"
	"github.com/tasksync/backend/internal/platform/metrics"
	"github.com/tasksync/backend/services/frontend"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpAddr := env.String("HTTP_ADDR", env.DefaultHTTPAddr)
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	authSecret := env.String("AUTH_SECRET", "dev-insecure-change-me")
	tokenTTL := env.Duration("AUTH_TOKEN_TTL", 7*24*time.Hour)
	uiOrigin := env.String("UI_ORIGIN", "")
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	identityRepo := identity.NewPostgresRepository(pool)
	taskRepo := tasks.NewPostgresRepository(pool)
	calendarRepo := calendar.NewPostgresRepository(pool)
	if err := waitForSchema(runCtx, pool, 30*time.Second,
		identityRepo.EnsureSchema, taskRepo.EnsureSchema, calendarRepo.EnsureSchema,
	); err != nil {
		log.Fatal(err)
	}

	topics := syncer.Topics{
		Tasks:        env.String("TOPIC_TASKS", env.DefaultTasksTopic),
		Calendar:     env.String("TOPIC_CALENDAR", env.DefaultCalendarTopic),
		Sync:         env.String("TOPIC_SYNC", env.DefaultSyncTopic),
		Notification: env.String("TOPIC_NOTIFICATION", env.DefaultNotificationTopic),
	}
	qos := byte(env.Int("MQTT_QOS", 1))

	busCfg := mqttbus.Config{
		Host: env.String("MQTT_HOST", env.DefaultBrokerHost),
		Port: env.Int("MQTT_PORT", env.DefaultBrokerPort),
		Security: mqttbus.Security{
			UseTLS:             env.Bool("MQTT_USE_TLS", false),
			CACertFile:         env.String("MQTT_CA_CERT", ""),
			InsecureSkipVerify: env.Bool("MQTT_INSECURE_SKIP_VERIFY", false),
		},
		Username:             env.String("MQTT_USERNAME", ""),
		Password:             env.String("MQTT_PASSWORD", ""),
		ClientID:             "todo-backend-" + nuid.Next(),
		QoS:                  qos,
		ConnectTimeout:       env.Duration("MQTT_CONNECT_TIMEOUT", 10*time.Second),
		PublishTimeout:       env.Duration("MQTT_PUBLISH_TIMEOUT", 5*time.Second),
		MaxReconnectInterval: env.Duration("MQTT_MAX_RECONNECT_INTERVAL", time.Minute),
	}

	bus, router, coordinator := connectBus(busCfg, topics, qos, taskRepo)

	taskSvc := tasks.NewService(taskRepo, coordinator)
	calendarSvc := calendar.NewService(calendarRepo)
	identitySvc := identity.NewService(identityRepo, auth.NewManager(authSecret, tokenTTL))
	handler := webapi.NewHandler(identitySvc, taskSvc, calendarSvc, uiOrigin)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// The bus is an enhancement, not a dependency of correctness:
		// readiness tracks only the store.
		if err := checkReadiness(r.Context(), pool); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.DefaultHandler())
	mux.Handle("/api/", handler.Router())
	mux.Handle("/", frontend.StaticHandler())

	server := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("server listening on %s (sync broadcast enabled: %v)", httpAddr, coordinator.Enabled())
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if router != nil {
		router.Close()
	}
	if bus != nil {
		bus.Disconnect(250 * time.Millisecond)
	}
}

// connectBus establishes the broker session and wires the inbound topic
// router. A configuration mistake is fatal; a broker rejection or network
// fault only disables broadcast, so CRUD keeps serving.
func connectBus(cfg mqttbus.Config, topics syncer.Topics, qos byte, store syncer.Store) (*mqttbus.Client, *mqttbus.Router, *syncer.Coordinator) {
	bus, err := mqttbus.NewClient(cfg)
	if err != nil {
		log.Fatal(err)
	}

	if err := bus.Connect(); err != nil {
		log.Printf("mqtt unavailable, realtime sync disabled: %v", err)
		return nil, nil, syncer.New(nil, store, topics, qos)
	}

	coordinator := syncer.New(bus, store, topics, qos)
	router := mqttbus.NewRouter(qos, env.Int("SYNC_WORKERS", 4), env.Int("SYNC_QUEUE_SIZE", 64))
	coordinator.Register(router)
	if err := router.Bind(bus); err != nil {
		log.Printf("mqtt subscribe failed, inbound sync disabled: %v", err)
	}
	return bus, router, coordinator
}

func waitForSchema(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration, ensure ...func(context.Context) error) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = pool.Ping(attemptCtx)
		for _, fn := range ensure {
			if lastErr != nil {
				break
			}
			lastErr = fn(attemptCtx)
		}
		cancel()

		if lastErr == nil {
			return nil
		}
		log.Printf("waiting for postgres readiness: %v", lastErr)
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}

func checkReadiness(ctx context.Context, pool *pgxpool.Pool) error {
	checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	if err := pool.Ping(checkCtx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}
