package config

import (
	"fmt"
	"os"
	"time"

	"dmchat/tools/errs"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	StoreDriverMongo    = "mongo"
	StoreDriverPostgres = "postgres"
)

// AppConfig is the whole hub configuration. Values come from, in order:
// defaults, the optional YAML file, then environment variables.
type AppConfig struct {
	NodeId   int64  `yaml:"node_id" envconfig:"NODE_ID" validate:"gte=0,lte=1023"`
	Host     string `yaml:"host" envconfig:"HOST"`
	Port     int    `yaml:"port" envconfig:"PORT" validate:"gt=0,lte=65535"`
	GrpcPort int    `yaml:"grpc_port" envconfig:"GRPC_PORT" validate:"gte=0,lte=65535"`
	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error"`

	// ClientURL is the allowed browser origin; empty accepts any origin.
	ClientURL      string `yaml:"client_url" envconfig:"CLIENT_URL"`
	InternalSecret string `yaml:"internal_secret" envconfig:"INTERNAL_SECRET"`

	Hub     HubConfig     `yaml:"hub"`
	Auth    AuthConfig    `yaml:"auth"`
	Store   StoreConfig   `yaml:"store"`
	Uploads UploadsConfig `yaml:"uploads"`
	Redis   RedisConfig   `yaml:"redis"`
	Nats    NatsConfig    `yaml:"nats"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Nacos   NacosConfig   `yaml:"nacos"`
}

type HubConfig struct {
	ProbeInterval  time.Duration `yaml:"probe_interval" envconfig:"PROBE_INTERVAL" validate:"gt=0"`
	PongDeadline   time.Duration `yaml:"pong_deadline" envconfig:"PONG_DEADLINE" validate:"gt=0"`
	WriteWait      time.Duration `yaml:"write_wait" envconfig:"WRITE_WAIT" validate:"gt=0"`
	SendQueueSize  int           `yaml:"send_queue_size" envconfig:"SEND_QUEUE_SIZE" validate:"gt=0"`
	InboundQueue   int           `yaml:"inbound_queue" envconfig:"INBOUND_QUEUE" validate:"gt=0"`
	MaxFrameBytes  int64         `yaml:"max_frame_bytes" envconfig:"MAX_FRAME_BYTES" validate:"gt=0"`
	VerifyTimeout  time.Duration `yaml:"verify_timeout" envconfig:"VERIFY_TIMEOUT" validate:"gt=0"`
	ReadBufferSize int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" validate:"gt=0"`

	// WriteBufferSize 0 reuses ReadBufferSize.
	WriteBufferSize int `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" validate:"gte=0"`
}

type AuthConfig struct {
	JwtSecret  string `yaml:"jwt_secret" envconfig:"JWT_SECRET" validate:"required"`
	JwtAlg     string `yaml:"jwt_alg" envconfig:"JWT_ALG" validate:"omitempty,oneof=HS256 HS384 HS512"`
	CookieName string `yaml:"cookie_name" envconfig:"TOKEN_COOKIE" validate:"required"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver" envconfig:"STORE_DRIVER" validate:"oneof=mongo postgres"`
	MongoURL    string `yaml:"mongo_url" envconfig:"MONGO_URL" validate:"required_if=Driver mongo"`
	MongoDB     string `yaml:"mongo_db" envconfig:"MONGO_DB" validate:"required_if=Driver mongo"`
	MaxPoolSize int    `yaml:"max_pool_size" envconfig:"MONGO_MAX_POOL_SIZE"`
	PostgresURL string `yaml:"postgres_url" envconfig:"DATABASE_URL" validate:"required_if=Driver postgres"`
}

type UploadsConfig struct {
	Dir string `yaml:"dir" envconfig:"UPLOADS_DIR" validate:"required"`
	// Route is where the gateway serves stored attachment bytes.
	Route string `yaml:"route" envconfig:"UPLOADS_ROUTE" validate:"required,startswith=/"`
}

type RedisConfig struct {
	Enabled     bool          `yaml:"enabled" envconfig:"REDIS_ENABLED"`
	Addr        string        `yaml:"addr" envconfig:"REDIS_ADDR" validate:"required_if=Enabled true"`
	Password    string        `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB          int           `yaml:"db" envconfig:"REDIS_DB"`
	PoolSize    int           `yaml:"pool_size" envconfig:"REDIS_POOL_SIZE"`
	PresenceKey string        `yaml:"presence_key" envconfig:"REDIS_PRESENCE_KEY"`
	PresenceTTL time.Duration `yaml:"presence_ttl" envconfig:"REDIS_PRESENCE_TTL"`
}

type NatsConfig struct {
	Enabled bool     `yaml:"enabled" envconfig:"NATS_ENABLED"`
	Servers []string `yaml:"servers" envconfig:"NATS_SERVERS" validate:"required_if=Enabled true"`
	User    string   `yaml:"user" envconfig:"NATS_USER"`
	Pass    string   `yaml:"pass" envconfig:"NATS_PASS"`
	Subject string   `yaml:"subject" envconfig:"NATS_DELETED_SUBJECT"`
	Queue   string   `yaml:"queue" envconfig:"NATS_QUEUE"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" envconfig:"KAFKA_ENABLED"`
	Brokers []string `yaml:"brokers" envconfig:"KAFKA_BROKERS" validate:"required_if=Enabled true"`
	GroupID string   `yaml:"group_id" envconfig:"KAFKA_GROUP_ID"`
	Topic   string   `yaml:"topic" envconfig:"KAFKA_DELETED_TOPIC"`
	Version string   `yaml:"version" envconfig:"KAFKA_VERSION"`
}

// NacosConfig points at an optional remote YAML document layered over the
// local file. Hub timings and queue sizes in it are hot-reloaded.
type NacosConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"NACOS_ENABLED"`
	Addr      string `yaml:"addr" envconfig:"NACOS_ADDR" validate:"required_if=Enabled true"`
	Namespace string `yaml:"namespace" envconfig:"NACOS_NAMESPACE"`
	Group     string `yaml:"group" envconfig:"NACOS_GROUP"`
	DataId    string `yaml:"data_id" envconfig:"NACOS_DATA_ID" validate:"required_if=Enabled true"`
	Username  string `yaml:"username" envconfig:"NACOS_USERNAME"`
	Password  string `yaml:"password" envconfig:"NACOS_PASSWORD"`
}

// Default mirrors the original deployment: port 4040, ping every 5s, 1s to answer.
func Default() AppConfig {
	return AppConfig{
		NodeId:   1,
		Port:     4040,
		GrpcPort: 50052,
		LogLevel: "info",
		Hub: HubConfig{
			ProbeInterval:  5 * time.Second,
			PongDeadline:   time.Second,
			WriteWait:      10 * time.Second,
			SendQueueSize:  256,
			MaxFrameBytes:  50 << 20,
			VerifyTimeout:  5 * time.Second,
			ReadBufferSize: 4096,
			InboundQueue:   16,
		},
		Auth: AuthConfig{
			JwtAlg:     "HS256",
			CookieName: "token",
		},
		Store: StoreConfig{
			Driver:      StoreDriverMongo,
			MongoURL:    "mongodb://localhost:27017",
			MongoDB:     "dmchat",
			MaxPoolSize: 20,
		},
		Uploads: UploadsConfig{
			Dir:   "uploads",
			Route: "/uploads",
		},
		Redis: RedisConfig{
			Addr:        "127.0.0.1:6379",
			PresenceKey: "dm:presence:online",
			PresenceTTL: time.Minute,
		},
		Nats: NatsConfig{
			Servers: []string{"nats://127.0.0.1:4222"},
			Subject: "chat.message.deleted",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"127.0.0.1:9092"},
			GroupID: "dmchat-hub",
			Topic:   "chat.message.deleted",
			Version: "2.1.0",
		},
		Nacos: NacosConfig{
			Addr:   "127.0.0.1:8848",
			Group:  "DEFAULT_GROUP",
			DataId: "dmchat-hub.yaml",
		},
	}
}

// Load builds the configuration. path may be empty; envFiles are optional dotenv files.
func Load(path string, envFiles ...string) (AppConfig, error) {
	cfg := Default()

	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return cfg, errs.WrapMsg(err, "load env file", "file", f)
			}
		}
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, errs.WrapMsg(err, "read config file", "path", path)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, errs.WrapMsg(err, "parse config file", "path", path)
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, errs.WrapMsg(err, "read environment")
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Overlay layers a remote YAML document over base. Environment variables
// still win, and the result is validated.
func Overlay(base AppConfig, content []byte) (AppConfig, error) {
	cfg := base
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return base, errs.WrapMsg(err, "parse remote config")
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return base, errs.WrapMsg(err, "read environment")
	}
	if err := Validate(cfg); err != nil {
		return base, err
	}
	return cfg, nil
}

var validate = validator.New()

func Validate(cfg AppConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return errs.WrapMsg(err, "invalid config")
	}
	if cfg.Hub.PongDeadline >= cfg.Hub.ProbeInterval {
		return errs.New("pong_deadline must be shorter than probe_interval",
			"pong_deadline", cfg.Hub.PongDeadline, "probe_interval", cfg.Hub.ProbeInterval).Wrap()
	}
	return nil
}

func (c AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
