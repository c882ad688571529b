package mongoutil

import (
	"context"
	"errors"
	"time"

	"dmchat/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// 认证类错误，重试无意义
const (
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
)

type Client struct {
	db *mongo.Database
}

func (c *Client) GetDB() *mongo.Database {
	return c.db
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.db.Client().Disconnect(ctx)
}

func clientOptions(cfg *Config) (*options.ClientOptions, error) {
	if cfg.Uri == "" {
		return nil, errs.New("mongo: uri is required").Wrap()
	}
	opts := options.Client().
		ApplyURI(cfg.Uri).
		SetMaxPoolSize(uint64(cfg.MaxPoolSize)).
		SetAppName("dmchat-hub")
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthSource,
		})
	}
	return opts, nil
}

// NewMongoDB 连接并 ping，最多重试 MaxRetry 次
func NewMongoDB(ctx context.Context, cfg *Config) (*Client, error) {
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	var cli *mongo.Client
	for attempt := 1; ; attempt++ {
		cli, err = connect(ctx, opts)
		if err == nil || attempt >= cfg.MaxRetry || !retryable(ctx, err) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errs.WrapMsg(ctx.Err(), "mongo connect canceled", "database", cfg.Database)
		case <-time.After(cfg.RetryWait):
		}
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "mongo connect failed", "database", cfg.Database)
	}
	return &Client{db: cli.Database(cfg.Database)}, nil
}

func connect(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code != codeUnauthorized && cmdErr.Code != codeAuthenticationFailed
	}
	return true
}
