package kafka

import (
	"sync"

	"dmchat/tools/errs"
)

type MessageHandler func(topic string, key, value []byte) error

// Router topic -> handler
type Router struct {
	mu       sync.RWMutex
	handlers map[string]MessageHandler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]MessageHandler)}
}

func (r *Router) RegisterHandler(topic string, handler MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = handler
}

func (r *Router) GetHandler(topic string) (MessageHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[topic]; ok {
		return h, nil
	}
	return nil, errs.New("no handler registered", "topic", topic).Wrap()
}

func (r *Router) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// DeletionHandler 适配 Hub.HandleDeletionEvent 这类只要 payload 的处理函数
func DeletionHandler(apply func([]byte) error) MessageHandler {
	return func(_ string, _, value []byte) error {
		return apply(value)
	}
}
