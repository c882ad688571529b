package natsx

import (
	"context"
	"testing"
	"time"

	"dmchat/tools/errs"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNatsxChain_Order(t *testing.T) {
	req := require.New(t)
	var order []string
	mw := func(name string) NatsxMiddleware {
		return func(next NatsxHandler) NatsxHandler {
			return func(ctx context.Context, msg NatsxMessage) error {
				order = append(order, name)
				return next(ctx, msg)
			}
		}
	}
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		order = append(order, "handler")
		return nil
	}, mw("a"), mw("b"))

	req.NoError(h(context.Background(), NatsxMessage{}))
	req.Equal([]string{"a", "b", "handler"}, order)
}

func TestIdemMiddleware_DropsDuplicates(t *testing.T) {
	req := require.New(t)
	calls := 0
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		calls++
		return nil
	}, NatsxIdemMiddleware(newMemIdem(time.Minute), 0))

	ctx := context.Background()
	msg := NatsxMessage{Subject: BizMessageDeleted, Data: []byte(`{"messageId":"m1"}`)}
	req.NoError(h(ctx, msg))
	req.NoError(h(ctx, msg))
	req.NoError(h(ctx, NatsxMessage{Subject: BizMessageDeleted, Data: []byte(`{"messageId":"m2"}`)}))
	req.NoError(h(ctx, NatsxMessage{Subject: BizMessageDeleted, Data: []byte(`x`), Header: map[string]string{"Nats-Msg-Id": "id-1"}}))
	req.NoError(h(ctx, NatsxMessage{Subject: BizMessageDeleted, Data: []byte(`y`), Header: map[string]string{"Nats-Msg-Id": "id-1"}}))

	req.Equal(3, calls)
}

func TestMemIdem_Expires(t *testing.T) {
	req := require.New(t)
	now := time.Unix(1000, 0)
	mi := newMemIdem(time.Second)
	mi.now = func() time.Time { return now }

	seen, _ := mi.SeenOnce("k", 0)
	req.False(seen)
	seen, _ = mi.SeenOnce("k", 0)
	req.True(seen)

	now = now.Add(2 * time.Second)
	mi.sweep()
	req.Empty(mi.m)
	seen, _ = mi.SeenOnce("k", 0)
	req.False(seen)
}

func TestDeletionHandler_PassesPayload(t *testing.T) {
	req := require.New(t)
	var got []byte
	h := NatsxChain(DeletionHandler(func(b []byte) error {
		got = b
		return errs.New("unknown id")
	}), NatsxLogMiddleware(zap.NewNop()))

	err := h(context.Background(), NatsxMessage{Data: []byte("m7")})

	req.Error(err)
	req.Equal([]byte("m7"), got)
}

func TestHeaderToMap(t *testing.T) {
	req := require.New(t)
	req.Nil(headerToMap(nil))
	req.Equal(map[string]string{"X-Msg-Id": "a"}, headerToMap(nats.Header{"X-Msg-Id": {"a", "b"}, "Empty": {}}))
}

func TestNewNatsxClient_RequiresServers(t *testing.T) {
	_, err := NewNatsxClient(NatsxConfig{})
	require.Error(t, err)
}

func TestRegisterRoute_Validates(t *testing.T) {
	c := &NatsxClient{routes: map[string]NatsxRoute{}}
	require.Error(t, c.RegisterRoute(NatsxRoute{Biz: "x"}))
	require.NoError(t, c.RegisterRoute(NatsxRoute{Biz: "x", Subject: "s"}))
	r, ok := c.route("x")
	require.True(t, ok)
	require.Equal(t, "s", r.Subject)
}
