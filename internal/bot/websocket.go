package bot

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ggonzalez94/swapdesk/internal/events"
	"github.com/ggonzalez94/swapdesk/internal/logging"
)

// Frame types exchanged with chat clients over the websocket hub.
const (
	FrameMessage  = "message"
	FrameEdit     = "edit"
	FrameConfirm  = "confirm"
	FrameCallback = "callback"
)

type outgoing struct {
	MessageID string   `json:"message_id"`
	Text      string   `json:"text"`
	Buttons   []Button `json:"buttons,omitempty"`
}

type incoming struct {
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
	Data      string `json:"data"`
}

// HubPrompter delivers prompts as websocket frames. Users without an open
// connection miss them.
type HubPrompter struct {
	hub *events.Hub
	seq atomic.Uint64
}

func NewHubPrompter(hub *events.Hub) *HubPrompter {
	return &HubPrompter{hub: hub}
}

func (p *HubPrompter) nextID() string {
	return strconv.FormatUint(p.seq.Add(1), 10)
}

func (p *HubPrompter) Send(_ context.Context, userID, text string) (string, error) {
	msgID := p.nextID()
	return msgID, p.hub.Send(userID, FrameMessage, outgoing{MessageID: msgID, Text: text})
}

func (p *HubPrompter) Edit(_ context.Context, userID, messageID, text string) error {
	return p.hub.Send(userID, FrameEdit, outgoing{MessageID: messageID, Text: text})
}

func (p *HubPrompter) Confirm(_ context.Context, userID, text string, buttons []Button) (string, error) {
	msgID := p.nextID()
	return msgID, p.hub.Send(userID, FrameConfirm, outgoing{MessageID: msgID, Text: text, Buttons: buttons})
}

// FrameHandler feeds client frames into the conversation.
func (c *Conversation) FrameHandler(logger *zap.Logger) events.MessageHandler {
	logger = logging.OrNop(logger)
	return func(ctx context.Context, userID string, frame events.Frame) {
		var in incoming
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &in); err != nil {
				logger.Debug("malformed chat frame", zap.String("user", userID), zap.String("type", frame.Type))
				return
			}
		}
		switch frame.Type {
		case FrameMessage:
			c.HandleMessage(ctx, userID, in.Text)
		case FrameCallback:
			c.HandleCallback(ctx, userID, in.MessageID, in.Data)
		default:
			logger.Debug("ignoring chat frame", zap.String("user", userID), zap.String("type", frame.Type))
		}
	}
}
