package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Herobone/stream-scorer/internal/api"
	"github.com/Herobone/stream-scorer/internal/event"
	"github.com/Herobone/stream-scorer/internal/ledger"
	"github.com/Herobone/stream-scorer/internal/notifier"
	"github.com/Herobone/stream-scorer/internal/scoreboard"
	"github.com/Herobone/stream-scorer/internal/scoring"
	"github.com/Herobone/stream-scorer/internal/store"
	"github.com/Herobone/stream-scorer/internal/telemetry"
)

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Log struct {
		Level  string
		Format string
	}

	Redis struct {
		Store  RedisConfig
		Pubsub RedisConfig
	}

	Scoreboard struct {
		PublishInterval time.Duration
	}
}

// DefaultConfig is what Load starts from before reading the file and environment.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Log.Level = "info"
	c.Log.Format = "json"
	c.Redis.Store.Addrs = []string{"localhost:6379"}
	c.Redis.Pubsub.Addrs = []string{"localhost:6379"}
	c.Redis.Pubsub.Prefix = notifier.DefaultPrefix
	c.Scoreboard.PublishInterval = 200 * time.Millisecond
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			store  redis.UniversalClient
			pubsub redis.UniversalClient
		}
	}

	service struct {
		store      *store.Store
		notifier   *notifier.Notifier
		scoring    *scoring.Registry
		ledger     *ledger.Service
		scoreboard *scoreboard.Service
	}

	handler http.Handler
	health  *health.Server

	http *http.Server
	grpc *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(name string, addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(name, r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.store, err = connect("store", s.c.Redis.Store.Addrs, s.c.Redis.Store.Pass)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initService() {
	s.service.store = store.New(store.Config{
		Redis:  s.infra.redis.store,
		Prefix: s.c.Redis.Store.Prefix,
	})

	s.service.notifier = notifier.New(notifier.Config{
		Redis:  s.infra.redis.pubsub,
		Prefix: s.c.Redis.Pubsub.Prefix,
	})

	s.service.scoring = scoring.NewRegistry()

	s.service.ledger = ledger.NewService(ledger.Config{
		EventBus: s.eb,
		Store:    s.service.store,
		Notifier: s.service.notifier,
		Scoring:  s.service.scoring,
	})

	s.service.scoreboard = scoreboard.NewService(scoreboard.Config{
		EventBus:        s.eb,
		Store:           s.service.store,
		Notifier:        s.service.notifier,
		Redis:           s.infra.redis.store,
		Prefix:          s.c.Redis.Store.Prefix,
		PublishInterval: s.c.Scoreboard.PublishInterval,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), api.RequestLog())

	api.New(api.Config{
		Router:     e,
		Ledger:     s.service.ledger,
		Scoreboard: s.service.scoreboard,
		Scoring:    s.service.scoring,
		Games:      s.service.store,
	})

	s.handler = e
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
}

// Handler serves the HTTP API without listening, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Store exposes the score store, e.g. to seed games created elsewhere.
func (s *Server) Store() *store.Store {
	return s.service.store
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	// Pending snapshots still need redis.
	s.eb.Stop()
	s.service.scoreboard.Stop()

	for name, r := range map[string]redis.UniversalClient{
		"store":  s.infra.redis.store,
		"pubsub": s.infra.redis.pubsub,
	} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "client", name, "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
