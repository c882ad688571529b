package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dmchat/global"
	"dmchat/global/config"
	"dmchat/logger"
	mid "dmchat/middleware"
	midsec "dmchat/middleware/security"
	"dmchat/service/chat"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	configPath := flag.String("config", os.Getenv("DMCHAT_CONFIG"), "path to a YAML config file")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		logger.Errorf("load config: %v", err)
		os.Exit(1)
	}
	log := logger.Init(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("hub stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.AppConfig, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, remote, closeRemote, err := global.ConfigNacos(cfg, log)
	if err != nil {
		return err
	}
	defer closeRemote()

	gen := global.ConfigIds(cfg)

	messages, closeStore, err := global.ConfigMessageStore(ctx, cfg, log, gen)
	if err != nil {
		return err
	}
	defer closeStore()

	attachments, err := global.ConfigAttachments(cfg)
	if err != nil {
		return err
	}

	hub := chat.NewHub(global.HubConf(cfg.Hub), log.Named("hub"), global.ConfigVerifier(cfg), messages, attachments, gen)
	if err := global.WatchHubConf(remote, cfg, hub, log); err != nil {
		return err
	}

	mirror, closeRedis, err := global.ConfigRedis(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRedis()
	if mirror != nil {
		hub.WithPresenceSink(mirror)
	}

	closeNats, err := global.ConfigNats(ctx, cfg, log, hub.HandleDeletionEvent)
	if err != nil {
		return err
	}
	defer closeNats()
	defer global.ConfigKafka(ctx, cfg, log, hub.HandleDeletionEvent)()

	writeBuf := cfg.Hub.WriteBufferSize
	if writeBuf == 0 {
		writeBuf = cfg.Hub.ReadBufferSize
	}
	srv := chat.NewServer(hub, log.Named("ws"), chat.ServerOptions{
		ReadBufferSize:  cfg.Hub.ReadBufferSize,
		WriteBufferSize: writeBuf,
		MaxFrameBytes:   cfg.Hub.MaxFrameBytes,
		CheckOrigin:     mid.CheckOrigin(cfg.ClientURL),
	})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	mids := mid.NewManager()
	mids.Add(gin.Recovery(), mid.AccessLog(log.Named("http")), mid.Origin(cfg.ClientURL))
	mids.Mount(r)

	tokenOpts := midsec.DefaultOptions()
	tokenOpts.CookieName = cfg.Auth.CookieName
	r.GET("/ws", midsec.Middleware(tokenOpts), srv.HandleWS)
	r.GET("/healthz", srv.Healthz)
	r.GET("/presence", srv.OnlineUsers)
	r.Static(cfg.Uploads.Route, attachments.Dir())
	if cfg.InternalSecret != "" {
		mid.POST(r, "/internal/messages/:id/deleted", srv.MessageDeleted, mid.RouteOpt{InternalSecret: cfg.InternalSecret})
	}

	httpSrv := &http.Server{Addr: cfg.Addr(), Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.Addr()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	gs, err := serveHealth(cfg, log, errCh)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errCh:
		log.Error("server failed", zap.Error(err))
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if gs != nil {
		gs.GracefulStop()
	}
	hub.Shutdown()
	if serr := httpSrv.Shutdown(sctx); serr != nil {
		log.Warn("http shutdown", zap.Error(serr))
	}
	return err
}

// serveHealth exposes the standard gRPC health service; GrpcPort 0 disables it.
func serveHealth(cfg config.AppConfig, log *zap.Logger, errCh chan<- error) (*grpc.Server, error) {
	if cfg.GrpcPort == 0 {
		return nil, nil
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.GrpcPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("dmchat.Hub", healthpb.HealthCheckResponse_SERVING)

	go func() {
		log.Info("grpc health listening", zap.String("addr", addr))
		if err := gs.Serve(lis); err != nil {
			errCh <- err
		}
	}()
	return gs, nil
}
