package chat

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"dmchat/service/storage"
	"dmchat/tools/errs"

	"github.com/gabriel-vasile/mimetype"
)

const frameTypeMessageDeleted = "messageDeleted"

// InboundFrame is what a client sends to relay a message.
type InboundFrame struct {
	Recipient string       `json:"recipient"`
	Text      string       `json:"text,omitempty"`
	File      *InboundFile `json:"file,omitempty"`
}

// InboundFile carries the original file name and a data URL (or bare base64).
type InboundFile struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

type PresenceFrame struct {
	Online []storage.OnlineUser `json:"online"`
}

// MessageFrame is delivered to the recipient's connections.
type MessageFrame struct {
	Text      string    `json:"text,omitempty"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	File      string    `json:"file,omitempty"`
	ID        string    `json:"_id"`
	CreatedAt time.Time `json:"createdAt"`
}

type DeletedFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

// ParseInbound decodes and validates a client frame. A file whose data is
// empty is treated as absent.
func ParseInbound(raw []byte) (InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return InboundFrame{}, errs.ErrInvalidFrame.WrapMsg("malformed json", "err", err)
	}
	if f.File != nil && f.File.Data == "" {
		f.File = nil
	}
	if f.Recipient == "" {
		return InboundFrame{}, errs.ErrInvalidFrame.WrapMsg("recipient is required")
	}
	if f.Text == "" && f.File == nil {
		return InboundFrame{}, errs.ErrInvalidFrame.WrapMsg("frame carries neither text nor file")
	}
	return f, nil
}

// DecodeFileData returns the bytes of a data URL ("data:<mime>;base64,<payload>")
// or of a bare base64 string.
func DecodeFileData(data string) ([]byte, error) {
	payload := data
	if strings.HasPrefix(data, "data:") {
		i := strings.IndexByte(data, ',')
		if i < 0 {
			return nil, errs.ErrInvalidFrame.WrapMsg("data url without payload")
		}
		payload = data[i+1:]
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		b, err = base64.RawStdEncoding.DecodeString(payload)
	}
	if err != nil {
		return nil, errs.ErrInvalidFrame.WrapMsg("file data is not base64", "err", err)
	}
	return b, nil
}

// AttachmentName is "<unix millis>.<ext>". The extension comes from the
// original name and falls back to the sniffed content type.
func AttachmentName(now time.Time, original string, data []byte) string {
	ext := ""
	if i := strings.LastIndexByte(original, '.'); i >= 0 {
		ext = original[i+1:]
	}
	if !validExt(ext) {
		ext = strings.TrimPrefix(mimetype.Detect(data).Extension(), ".")
	}
	if !validExt(ext) {
		ext = "bin"
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "." + ext
}

func validExt(ext string) bool {
	if ext == "" || len(ext) > 16 {
		return false
	}
	for _, r := range ext {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func EncodePresence(online []storage.OnlineUser) ([]byte, error) {
	if online == nil {
		online = []storage.OnlineUser{}
	}
	return json.Marshal(PresenceFrame{Online: online})
}

func EncodeMessage(m storage.Message) ([]byte, error) {
	return json.Marshal(MessageFrame{
		Text:      m.Text,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		File:      m.File,
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
	})
}

func EncodeDeleted(messageID string) ([]byte, error) {
	return json.Marshal(DeletedFrame{Type: frameTypeMessageDeleted, MessageID: messageID})
}

// ParseDeletionEvent accepts {"messageId":"..."}, a JSON string or a raw id.
func ParseDeletionEvent(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	var id string
	switch {
	case len(data) == 0:
	case data[0] == '{':
		var ev struct {
			MessageID string `json:"messageId"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return "", errs.ErrInvalidFrame.WrapMsg("malformed deletion event", "err", err)
		}
		id = ev.MessageID
	case data[0] == '"':
		if err := json.Unmarshal(data, &id); err != nil {
			return "", errs.ErrInvalidFrame.WrapMsg("malformed deletion event", "err", err)
		}
	default:
		id = string(data)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errs.ErrInvalidFrame.WrapMsg("deletion event without messageId")
	}
	return id, nil
}
