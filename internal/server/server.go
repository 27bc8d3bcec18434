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
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/victornm/questarena/internal/api"
	"github.com/victornm/questarena/internal/auth"
	"github.com/victornm/questarena/internal/event"
	"github.com/victornm/questarena/internal/judge"
	"github.com/victornm/questarena/internal/leaderboard"
	"github.com/victornm/questarena/internal/player"
	"github.com/victornm/questarena/internal/questionbank"
	"github.com/victornm/questarena/internal/realtime"
	"github.com/victornm/questarena/internal/score"
	"github.com/victornm/questarena/internal/session"
	"github.com/victornm/questarena/internal/store"
	"github.com/victornm/questarena/internal/store/memory"
	"github.com/victornm/questarena/internal/store/postgres"
	"github.com/victornm/questarena/internal/telemetry"
	"github.com/victornm/questarena/internal/timer"
)

type Config struct {
	HTTP struct {
		Port           int32
		AllowedOrigins []string
	}

	GRPC struct {
		Port int32
	}

	Log struct {
		Format string
		Level  string
	}

	// Redis is optional. Without it leaderboard publishing is not throttled across instances
	// and live events are not mirrored.
	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	// Postgres is optional. An empty Addr keeps all state in memory.
	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Auth struct {
		Secret        string
		AdminPassword string
		PlayerTTL     time.Duration
		AdminTTL      time.Duration
	}

	Judge struct {
		URL           string
		Model         string
		Timeout       time.Duration
		MaxConcurrent int64
	}

	Questions struct {
		Path string
	}

	Game struct {
		DefaultSessionName     string
		DefaultDurationMinutes int
		TickInterval           time.Duration
		InactiveAfter          time.Duration
		JoinURL                string
	}
}

// DefaultConfig returns the settings used for anything the config file leaves out.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8000
	c.HTTP.AllowedOrigins = []string{"*"}
	c.GRPC.Port = 8001
	c.Log.Format = "tint"
	c.Log.Level = "info"
	c.Redis.Prefix = "questarena"
	c.Auth.PlayerTTL = 10 * time.Hour
	c.Auth.AdminTTL = 12 * time.Hour
	c.Judge.Timeout = 60 * time.Second
	c.Judge.MaxConcurrent = 4
	c.Questions.Path = "configs/questions.json"
	c.Game.DefaultSessionName = "QuestArena"
	c.Game.DefaultDurationMinutes = 30
	c.Game.TickInterval = time.Second
	c.Game.InactiveAfter = 5 * time.Minute
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
		store    store.Store
	}

	service struct {
		auth        *auth.Authenticator
		questions   *questionbank.Bank
		session     *session.Service
		player      *player.Service
		score       *score.Service
		leaderboard *leaderboard.Service
		hub         *realtime.Hub
		timer       *timer.Loop
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server

	// ctx scopes the background timer loop.
	ctx       context.Context
	cancel    context.CancelFunc
	timerDone chan struct{}
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c, timerDone: make(chan struct{})}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	if len(s.c.Redis.Addrs) == 0 {
		slog.Info("server: redis disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	pg := s.c.Postgres
	if pg.Addr == "" {
		slog.Info("server: postgres disabled, keeping state in memory")
		s.infra.store = memory.New()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pg.User, pg.Pass, pg.Addr, pg.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return err
	}

	st := postgres.New(db)
	if err := st.Migrate(ctx); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	s.infra.postgres = db
	s.infra.store = st
	return nil
}

func (s *Server) initService() (err error) {
	s.service.questions, err = questionbank.Load(s.c.Questions.Path)
	if err != nil {
		return err
	}

	s.service.auth, err = auth.New(auth.Config{
		Secret:        s.c.Auth.Secret,
		AdminPassword: s.c.Auth.AdminPassword,
		PlayerTTL:     s.c.Auth.PlayerTTL,
		AdminTTL:      s.c.Auth.AdminTTL,
	})
	if err != nil {
		return err
	}

	st := s.infra.store

	s.service.session = session.NewService(session.Config{
		Store:    st,
		EventBus: s.eb,
	})

	s.service.player = player.NewService(player.Config{
		Store:    st,
		Auth:     s.service.auth,
		EventBus: s.eb,
	})

	s.service.score = score.NewService(score.Config{
		Store:     st,
		EventBus:  s.eb,
		Questions: s.service.questions,
		Judge: judge.New(judge.Config{
			URL:           s.c.Judge.URL,
			Model:         s.c.Judge.Model,
			Timeout:       s.c.Judge.Timeout,
			MaxConcurrent: s.c.Judge.MaxConcurrent,
		}),
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		Store:    st,
		EventBus: s.eb,
		Redis:    s.infra.redis,
		Prefix:   s.c.Redis.Prefix,
	})

	hc := realtime.Config{EventBus: s.eb, Prefix: s.c.Redis.Prefix}
	if s.infra.redis != nil {
		hc.Redis = s.infra.redis
	}
	s.service.hub = realtime.NewHub(hc)

	s.service.timer = timer.New(timer.Config{
		Store:         st,
		EventBus:      s.eb,
		Interval:      s.c.Game.TickInterval,
		InactiveAfter: s.c.Game.InactiveAfter,
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.Use(gin.Recovery())
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")

	api.New(api.Config{
		Session:     s.service.session,
		Player:      s.service.player,
		Score:       s.service.score,
		Leaderboard: s.service.leaderboard,
		Questions:   s.service.questions,
		Auth:        s.service.auth,
		Hub:         s.service.hub,
		JoinURL:     s.c.Game.JoinURL,
	}).Register(e)

	handler := cors.Handler(cors.Options{
		AllowedOrigins: s.c.HTTP.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	})(e)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 60 * time.Second,
	}

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptors(slog.Default())...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
}

// Start ensures a session is open for players, starts the timer loop and serves until Shutdown.
func (s *Server) Start() {
	ctx := context.TODO()

	if _, err := s.service.session.EnsureLive(ctx, s.c.Game.DefaultSessionName, s.c.Game.DefaultDurationMinutes); err != nil {
		slog.ErrorContext(ctx, "server: ensure live session failed", "error", err)
	}

	go func() {
		defer close(s.timerDone)
		s.service.timer.Run(s.ctx)
	}()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
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

	s.cancel()
	select {
	case <-s.timerDone:
	case <-ctx.Done():
		slog.WarnContext(ctx, "server: timer loop did not stop in time")
	}

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}
	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
