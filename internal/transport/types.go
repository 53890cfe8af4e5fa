package transport

import (
	"context"
	"errors"
)

// ErrRecipientGone marks a delivery failure that will not heal on retry
// (bot blocked, chat deleted, user deactivated). Adapters wrap it.
var ErrRecipientGone = errors.New("recipient unreachable")

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an incoming chat message. Chat and sender identifiers are kept as
// opaque strings so they can be stored and compared without conversions.
type Message struct {
	ID           int
	ChatID       string
	FromID       string
	FromUsername string
	Text         string
	IsGroup      bool
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Photo is a rendered image plus its caption.
type Photo struct {
	Data    []byte
	Caption string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to string, text string, opt *SendOptions) error
	SendPhoto(ctx context.Context, to string, p Photo) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
