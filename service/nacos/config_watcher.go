package nacos

import (
	"sync"

	"dmchat/tools/errs"
	"dmchat/tools/safe"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// ConfigSource reads one dataId/group and reports changes to it.
type ConfigSource struct {
	cli   ConfigClient
	param vo.ConfigParam
	log   *zap.Logger

	mu        sync.Mutex
	current   string
	listening bool
}

func NewConfigSource(cli ConfigClient, dataID, group string, log *zap.Logger) *ConfigSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConfigSource{
		cli:   cli,
		param: vo.ConfigParam{DataId: dataID, Group: group},
		log:   log,
	}
}

// Load 第一次读取
func (s *ConfigSource) Load() (string, error) {
	content, err := s.cli.GetConfig(s.param)
	if err != nil {
		return "", errs.WrapMsg(err, "get nacos config", "dataId", s.param.DataId, "group", s.param.Group)
	}
	if content == "" {
		return "", errs.New("nacos config is empty", "dataId", s.param.DataId, "group", s.param.Group).Wrap()
	}
	s.mu.Lock()
	s.current = content
	s.mu.Unlock()
	return content, nil
}

func (s *ConfigSource) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Watch 开始监听；内容没变的推送会被忽略
func (s *ConfigSource) Watch(onChange func(content string)) error {
	param := s.param
	param.OnChange = func(_, group, dataID, data string) {
		s.mu.Lock()
		same := data == s.current
		if !same {
			s.current = data
		}
		s.mu.Unlock()
		if same || data == "" {
			return
		}
		s.log.Info("nacos config changed", zap.String("dataId", dataID), zap.String("group", group))
		safe.Run(s.log, "nacos-onchange", func() { onChange(data) })
	}
	if err := s.cli.ListenConfig(param); err != nil {
		return errs.WrapMsg(err, "listen nacos config", "dataId", s.param.DataId)
	}
	s.mu.Lock()
	s.listening = true
	s.mu.Unlock()
	return nil
}

// Close 取消监听
func (s *ConfigSource) Close() error {
	s.mu.Lock()
	listening := s.listening
	s.listening = false
	s.mu.Unlock()
	if !listening {
		return nil
	}
	return s.cli.CancelListenConfig(s.param)
}
