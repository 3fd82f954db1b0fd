package bot

import "context"

// Button is an inline choice attached to a prompt. Data comes back through
// HandleCallback when the user picks it.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Prompter delivers messages to a chat user. Implementations must not wait
// for the user to answer.
type Prompter interface {
	Send(ctx context.Context, userID, text string) (messageID string, err error)
	Edit(ctx context.Context, userID, messageID, text string) error
	Confirm(ctx context.Context, userID, text string, buttons []Button) (messageID string, err error)
}

const (
	CallbackConfirmBuy  = "confirm:buy"
	CallbackConfirmSell = "confirm:sell"
	CallbackCancel      = "cancel"
)
