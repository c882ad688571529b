package nacos

import (
	"net"
	"strconv"

	"dmchat/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

// ConfigClient 是 config_client.IConfigClient 中 hub 用到的部分
type ConfigClient interface {
	GetConfig(param vo.ConfigParam) (string, error)
	ListenConfig(param vo.ConfigParam) error
	CancelListenConfig(param vo.ConfigParam) error
}

type Options struct {
	Addr      string // host:port
	Namespace string
	Username  string
	Password  string
	TimeoutMs uint64
	LogLevel  string
	CacheDir  string
	LogDir    string
}

func (o *Options) norm() {
	if o.TimeoutMs == 0 {
		o.TimeoutMs = 5000
	}
	if o.LogLevel == "" {
		o.LogLevel = "warn"
	}
	if o.CacheDir == "" {
		o.CacheDir = "nacos/cache"
	}
	if o.LogDir == "" {
		o.LogDir = "nacos/log"
	}
}

func serverConfigs(addr string) ([]constant.ServerConfig, error) {
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errs.WrapMsg(err, "nacos addr", "addr", addr)
	}
	port, err := strconv.ParseUint(p, 10, 64)
	if err != nil {
		return nil, errs.WrapMsg(err, "nacos port", "addr", addr)
	}
	return []constant.ServerConfig{*constant.NewServerConfig(host, port)}, nil
}

// NewConfigClient 创建配置中心客户端
func NewConfigClient(opts Options) (ConfigClient, error) {
	opts.norm()
	servers, err := serverConfigs(opts.Addr)
	if err != nil {
		return nil, err
	}
	cc := constant.NewClientConfig(
		constant.WithNamespaceId(opts.Namespace),
		constant.WithTimeoutMs(opts.TimeoutMs),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogLevel(opts.LogLevel),
		constant.WithCacheDir(opts.CacheDir),
		constant.WithLogDir(opts.LogDir),
		constant.WithUsername(opts.Username),
		constant.WithPassword(opts.Password),
	)
	cli, err := clients.NewConfigClient(vo.NacosClientParam{
		ClientConfig:  cc,
		ServerConfigs: servers,
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "create nacos config client", "addr", opts.Addr)
	}
	return cli, nil
}
