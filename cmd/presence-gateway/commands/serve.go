package commands

import (
	"fmt"

	"github.com/anatoly-dev/go-presence-gateway/internal/service"
	"github.com/anatoly-dev/go-presence-gateway/pkg/config"
	"github.com/anatoly-dev/go-presence-gateway/pkg/handlers"
	"github.com/anatoly-dev/go-presence-gateway/pkg/kafka"
	"github.com/anatoly-dev/go-presence-gateway/pkg/metrics"
	"github.com/anatoly-dev/go-presence-gateway/pkg/presence"
	"github.com/anatoly-dev/go-presence-gateway/pkg/redis"
	"github.com/anatoly-dev/go-presence-gateway/pkg/websocket"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type Application struct {
	configPath      string
	cfg             *config.Config
	logger          *zap.Logger
	instanceID      string
	metrics         *metrics.Metrics
	metricsHandler  *metrics.MetricsHandler
	redisMirror     *redis.PresenceMirror
	kafkaProducer   *kafka.Producer
	hub             *presence.Hub
	wsManager       *websocket.Manager
	presenceService *service.PresenceService
	wsHandler       *handlers.WebSocketHandler
	healthHandler   *handlers.HealthCheckHandler
	server          *service.Server
}

func NewApplication(configPath string) *Application {
	return &Application{
		configPath: configPath,
		instanceID: uuid.New().String(),
	}
}

func (a *Application) Init() error {
	if err := a.initConfig(); err != nil {
		return err
	}

	if err := a.initLogger(); err != nil {
		return err
	}

	a.logger.Info("Starting presence gateway",
		zap.String("instanceID", a.instanceID),
		zap.String("version", "1.0.0"))

	a.initMetrics()
	a.initPresence()

	if err := a.initSinks(); err != nil {
		return err
	}

	a.initWebsocket()
	a.initServices()
	a.initHandlers()
	a.initServer()

	return nil
}

func (a *Application) initConfig() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg
	return nil
}

func (a *Application) initLogger() error {
	logger, err := config.NewLogger(&a.cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = logger.With(zap.String("instanceID", a.instanceID))
	return nil
}

func (a *Application) initMetrics() {
	a.metrics = metrics.NewMetrics(a.cfg.Metrics.Namespace)
	a.metricsHandler = metrics.NewMetricsHandler(a.metrics, a.logger)
}

func (a *Application) initPresence() {
	a.hub = presence.NewHub(presence.Config{
		IdleThreshold:     a.cfg.Presence.IdleThreshold,
		SweepInterval:     a.cfg.Presence.SweepInterval,
		DefaultUsername:   a.cfg.Presence.DefaultUsername,
		MaxUsernameLength: a.cfg.Presence.MaxUsernameLength,
		SinkBufferSize:    a.cfg.Presence.SinkBufferSize,
	}, a.logger)
	a.hub.SetMetrics(a.metrics)
}

func (a *Application) initSinks() error {
	if a.cfg.Redis.Enabled {
		mirror, err := redis.NewPresenceMirror(&a.cfg.Redis, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create Redis presence mirror: %w", err)
		}
		a.redisMirror = mirror
		a.hub.AddSink(mirror)
		a.logger.Info("Redis presence mirror enabled", zap.String("addr", a.cfg.Redis.Addr))
	}

	if a.cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(&a.cfg.Kafka, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		producer.SetMetrics(&a.metrics.Kafka)
		a.kafkaProducer = producer
		a.hub.AddSink(producer)
		a.logger.Info("Kafka event producer enabled", zap.String("topic", a.cfg.Kafka.Topic))
	}

	return nil
}

func (a *Application) initWebsocket() {
	ws := a.cfg.WebSocket
	a.wsManager = websocket.NewManager(a.hub, websocket.Config{
		SendBufferSize:    ws.SendBufferSize,
		MaxMessageSize:    ws.MaxMessageSize,
		PingInterval:      ws.PingInterval,
		PongTimeout:       ws.PongTimeout,
		WriteTimeout:      ws.WriteTimeout,
		MessagesPerSecond: ws.MessagesPerSecond,
		Burst:             ws.Burst,
		AllowedOrigins:    ws.AllowedOrigins,
	}, a.logger)
	a.wsManager.SetMetrics(&a.metrics.WebSocket)
}

func (a *Application) initServices() {
	a.presenceService = service.NewPresenceService(a.hub, a.metricsHandler, a.logger)
}

func (a *Application) initHandlers() {
	a.wsHandler = handlers.NewWebSocketHandler(a.wsManager, a.logger)
	a.wsHandler.SetMetrics(&a.metrics.WebSocket)
	a.healthHandler = handlers.NewHealthCheckHandler(a.hub, a.wsManager, a.logger)
}

func (a *Application) initServer() {
	a.server = service.NewServer(
		a.wsHandler,
		a.healthHandler,
		a.metricsHandler,
		a.presenceService,
		a.logger,
		&a.cfg.Server,
	)
}

func (a *Application) Run() error {
	return a.server.Start()
}

func (a *Application) Stop() {
	if a.kafkaProducer != nil {
		a.kafkaProducer.Close()
	}
	if a.redisMirror != nil {
		a.redisMirror.Close()
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the presence gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApplication(configPath)
			defer app.Stop()
			if err := app.Init(); err != nil {
				return err
			}
			return app.Run()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	return cmd
}
