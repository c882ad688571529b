package global

import (
	"context"
	"time"

	"dmchat/data/database/mgo/mongoutil"
	"dmchat/global/config"
	ka "dmchat/service/kafka"
	"dmchat/service/chat"
	mgoSrv "dmchat/service/mgo"
	"dmchat/service/nacos"
	"dmchat/service/natsx"
	"dmchat/service/storage"
	redis "dmchat/service/storage/redis"
	"dmchat/tools/errs"
	"dmchat/tools/ids"
	"dmchat/tools/safe"
	"dmchat/tools/security"

	"go.uber.org/zap"
)

// Cleanup releases whatever a Config* call opened.
type Cleanup func()

func nop() {}

func ConfigIds(cfg config.AppConfig) *ids.Generator {
	ids.SetNodeID(cfg.NodeId)
	return ids.NewGenerator(cfg.NodeId)
}

func ConfigVerifier(cfg config.AppConfig) security.Verifier {
	opts := security.DefaultOptions([]byte(cfg.Auth.JwtSecret))
	if cfg.Auth.JwtAlg != "" {
		opts.Alg = cfg.Auth.JwtAlg
	}
	return security.NewJWTVerifier(opts)
}

// ConfigMessageStore opens the configured message backend. Mongo connects in
// the background so the hub can accept sockets before the database is up;
// until then appends fail as persistence failures.
func ConfigMessageStore(ctx context.Context, cfg config.AppConfig, log *zap.Logger, gen *ids.Generator) (storage.MessageStore, Cleanup, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pool, err := storage.OpenPg(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, nop, err
		}
		store := storage.NewPgMessageStore(pool, gen)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nop, err
		}
		log.Info("message store ready", zap.String("driver", config.StoreDriverPostgres))
		return store, pool.Close, nil

	case config.StoreDriverMongo:
		mctx, cancel := context.WithCancel(ctx)
		mgr := mgoSrv.NewManager(&mongoutil.Config{
			Uri:         cfg.Store.MongoURL,
			Database:    cfg.Store.MongoDB,
			MaxPoolSize: cfg.Store.MaxPoolSize,
		}, log.Named("mongo"))
		mgr.StartAsync(mctx)

		store := storage.NewMongoMessageStore(mgr.TryGetDB)
		safe.Go(log, "mongo-indexes", func() {
			if err := mgr.WaitReady(mctx); err != nil {
				return
			}
			ictx, icancel := context.WithTimeout(mctx, 10*time.Second)
			defer icancel()
			if err := store.EnsureIndexes(ictx); err != nil {
				log.Warn("ensure mongo indexes failed", zap.Error(err))
				return
			}
			log.Info("message store ready", zap.String("driver", config.StoreDriverMongo))
		})
		return store, Cleanup(cancel), nil
	}
	return nil, nop, errs.New("unknown store driver", "driver", cfg.Store.Driver).Wrap()
}

func ConfigAttachments(cfg config.AppConfig) (*storage.DiskAttachmentStore, error) {
	return storage.NewDiskAttachmentStore(cfg.Uploads.Dir)
}

// ConfigRedis returns nil when the presence mirror is disabled.
func ConfigRedis(ctx context.Context, cfg config.AppConfig, log *zap.Logger) (*storage.PresenceMirror, Cleanup, error) {
	if !cfg.Redis.Enabled {
		return nil, nop, nil
	}
	rdb, err := redis.Open(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return nil, nop, err
	}
	mirror := storage.NewRedisPresence(rdb, cfg.Redis.PresenceKey, cfg.Redis.PresenceTTL, log.Named("presence-mirror"))
	mctx, cancel := context.WithCancel(ctx)
	safe.Go(log, "presence-mirror", func() { mirror.Run(mctx) })
	return mirror, func() {
		cancel()
		_ = rdb.Close()
	}, nil
}

// ConfigNats subscribes apply to deletion events when NATS is enabled.
func ConfigNats(ctx context.Context, cfg config.AppConfig, log *zap.Logger, apply func([]byte) error) (Cleanup, error) {
	if !cfg.Nats.Enabled {
		return nop, nil
	}
	mgr, err := natsx.NewNatsManager(natsx.NatsxConfig{
		Servers: cfg.Nats.Servers,
		Name:    "dmchat-hub",
		User:    cfg.Nats.User,
		Pass:    cfg.Nats.Pass,
	}, natsx.DefaultMiddlewares(ctx, log.Named("nats"))...)
	if err != nil {
		return nop, err
	}
	if err := mgr.SubscribeDeletions(cfg.Nats.Subject, cfg.Nats.Queue, apply); err != nil {
		_ = mgr.Close()
		return nop, err
	}
	log.Info("nats deletion subscriber started", zap.String("subject", cfg.Nats.Subject))
	return func() { _ = mgr.Close() }, nil
}

// ConfigKafka consumes deletion events in the background when Kafka is enabled.
func ConfigKafka(ctx context.Context, cfg config.AppConfig, log *zap.Logger, apply func([]byte) error) Cleanup {
	if !cfg.Kafka.Enabled {
		return nop
	}
	router := ka.NewRouter()
	router.RegisterHandler(cfg.Kafka.Topic, ka.DeletionHandler(apply))

	kctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	safe.Go(log, "kafka-consumer", func() {
		defer close(done)
		err := ka.StartConsumerGroup(kctx, ka.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topics:  router.Topics(),
			Version: cfg.Kafka.Version,
		}, router, log.Named("kafka"))
		if err != nil {
			log.Error("kafka consumer stopped", zap.Error(err))
		}
	})
	log.Info("kafka deletion consumer started", zap.String("topic", cfg.Kafka.Topic))
	return func() {
		cancel()
		<-done
	}
}

// HubConf maps the hub section of the config onto chat.HubConf.
func HubConf(c config.HubConfig) chat.HubConf {
	return chat.HubConf{
		ProbeInterval: c.ProbeInterval,
		PongDeadline:  c.PongDeadline,
		WriteWait:     c.WriteWait,
		SendQueueSize: c.SendQueueSize,
		InboundQueue:  c.InboundQueue,
		VerifyTimeout: c.VerifyTimeout,
	}
}

// ConfigNacos layers the remote document over cfg when Nacos is enabled.
// The returned source is nil when it is disabled.
func ConfigNacos(cfg config.AppConfig, log *zap.Logger) (config.AppConfig, *nacos.ConfigSource, Cleanup, error) {
	if !cfg.Nacos.Enabled {
		return cfg, nil, nop, nil
	}
	cli, err := nacos.NewConfigClient(nacos.Options{
		Addr:      cfg.Nacos.Addr,
		Namespace: cfg.Nacos.Namespace,
		Username:  cfg.Nacos.Username,
		Password:  cfg.Nacos.Password,
	})
	if err != nil {
		return cfg, nil, nop, err
	}
	src := nacos.NewConfigSource(cli, cfg.Nacos.DataId, cfg.Nacos.Group, log.Named("nacos"))
	merged, err := LoadRemote(cfg, src)
	if err != nil {
		return cfg, nil, nop, err
	}
	log.Info("remote config loaded", zap.String("dataId", cfg.Nacos.DataId), zap.String("group", cfg.Nacos.Group))
	return merged, src, func() { _ = src.Close() }, nil
}

// LoadRemote reads src once and overlays it on cfg.
func LoadRemote(cfg config.AppConfig, src *nacos.ConfigSource) (config.AppConfig, error) {
	content, err := src.Load()
	if err != nil {
		return cfg, err
	}
	return config.Overlay(cfg, []byte(content))
}

// WatchHubConf re-applies hub settings from every remote change. A change
// that fails to parse or validate is logged and ignored.
func WatchHubConf(src *nacos.ConfigSource, base config.AppConfig, hub *chat.Hub, log *zap.Logger) error {
	if src == nil {
		return nil
	}
	return src.Watch(func(content string) {
		next, err := config.Overlay(base, []byte(content))
		if err != nil {
			log.Warn("remote config change rejected", zap.Error(err))
			return
		}
		hub.UpdateConf(HubConf(next.Hub))
	})
}
