package chat

import (
	"context"
	"time"

	"dmchat/service/storage"
	"dmchat/tools/errs"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Relay turns one inbound frame into a stored message and delivers it to
// the recipient's connections.
type Relay struct {
	log         *zap.Logger
	registry    *Registry
	messages    storage.MessageStore
	attachments storage.AttachmentStore
	clock       func() time.Time
	deliver     func([]*Conn, []byte)
}

func newRelay(log *zap.Logger, registry *Registry, messages storage.MessageStore,
	attachments storage.AttachmentStore, clock func() time.Time, deliver func([]*Conn, []byte)) *Relay {
	return &Relay{
		log:         log,
		registry:    registry,
		messages:    messages,
		attachments: attachments,
		clock:       clock,
		deliver:     deliver,
	}
}

// HandleInbound processes raw from c. Nothing is delivered unless the
// message was persisted. An attachment already written is kept even if
// persistence then fails.
func (r *Relay) HandleInbound(ctx context.Context, c *Conn, raw []byte) (storage.Message, error) {
	sender, ok := r.registry.Identity(c)
	if !ok {
		r.log.Debug("frame from unidentified connection dropped", zap.String("conn", c.id))
		return storage.Message{}, errs.ErrIdentityUnresolved.WrapMsg("", "conn", c.id)
	}

	frame, err := ParseInbound(raw)
	if err != nil {
		r.log.Debug("invalid frame dropped", zap.String("conn", c.id), zap.Error(err))
		return storage.Message{}, err
	}

	msg := storage.Message{
		Sender:    sender.UserID,
		Recipient: frame.Recipient,
		Text:      frame.Text,
	}

	if frame.File != nil {
		data, err := DecodeFileData(frame.File.Data)
		if err != nil {
			r.log.Debug("undecodable attachment dropped", zap.String("conn", c.id), zap.Error(err))
			return storage.Message{}, err
		}
		name := AttachmentName(r.clock(), frame.File.Name, data)
		ref, err := r.attachments.Put(ctx, name, data)
		if err != nil {
			r.log.Error("attachment write failed",
				zap.String("sender", msg.Sender), zap.String("name", name), zap.Error(err))
			return storage.Message{}, errs.ErrAttachmentWriteFailure.WrapMsg("put attachment", "name", name, "err", err)
		}
		msg.File = ref
	}

	if !msg.HasContent() {
		// 附件存储返回空引用且没有文本
		return storage.Message{}, errs.ErrInvalidFrame.WrapMsg("message has no content", "conn", c.id)
	}

	stored, err := r.messages.Append(ctx, msg)
	if err != nil {
		r.log.Error("message persistence failed",
			zap.String("sender", msg.Sender), zap.String("recipient", msg.Recipient),
			zap.String("file", msg.File), zap.Error(err))
		return storage.Message{}, errs.ErrPersistenceFailure.WrapMsg("append message", "err", err)
	}

	out, err := EncodeMessage(stored)
	if err != nil {
		return stored, errs.WrapMsg(err, "encode message frame", "id", stored.ID)
	}
	// the originating tab renders its own message
	audience := lo.Reject(r.registry.ConnectionsFor(stored.Recipient), func(t *Conn, _ int) bool { return t == c })
	r.deliver(audience, out)
	r.log.Debug("message relayed",
		zap.String("id", stored.ID), zap.String("sender", stored.Sender),
		zap.String("recipient", stored.Recipient), zap.Int("targets", len(audience)))
	return stored, nil
}
