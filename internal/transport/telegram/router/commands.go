package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "nelculobot/internal/runtime/supervisor"
	kit "nelculobot/internal/transport"
	"nelculobot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	ChatID  string
	FromID  string
	Command string
	Args    []string
	// Payload is the message text after the command word with its original
	// spacing and newlines.
	Payload string
	IsAdmin bool
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends a plain text answer to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	return r.Adapter.SendText(ctx, r.ChatID, text, &kit.SendOptions{DisablePreview: true})
}

// ReplyHTML sends an HTML formatted answer to the chat the request came from.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	return r.Adapter.SendText(ctx, r.ChatID, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
}

const (
	msgUnknown      = "Comando sconosciuto. Prova /help"
	msgUnauthorized = "⛔ Non autorizzato."
	msgBusy         = "Occupato, riprova tra poco."
	msgInternal     = "❌ Errore interno, riprova più tardi."
)

type CommandManager struct {
	mu    sync.RWMutex
	cmds  map[string]*Command // name and aliases -> command
	list  []Command
	admin string

	log     logx.Logger
	adapter kit.Adapter
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, admin string) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		cmds:    map[string]*Command{},
		admin:   strings.TrimSpace(admin),
		log:     log,
		adapter: adapter,
		jobs:    make(chan func(), 256),
	}
}

// SetAdmin updates the chat/user ID used for AccessAdminOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetAdmin(admin string) {
	m.mu.Lock()
	m.admin = strings.TrimSpace(admin)
	m.mu.Unlock()
}

func (m *CommandManager) adminID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.admin
}

// IsAdmin reports whether msg comes from the configured admin, matching
// either the sender or the chat.
func (m *CommandManager) IsAdmin(msg *kit.Message) bool {
	admin := m.adminID()
	if admin == "" || msg == nil {
		return false
	}
	return msg.FromID == admin || msg.ChatID == admin
}

// SetRegistry replaces the command set. /help is always injected.
func (m *CommandManager) SetRegistry(ctx context.Context, cmds []Command) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h", "aiuto"},
		Description: "mostra i comandi disponibili",
		Usage:       "/help [comando]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, m.helpText(req.Args, req.IsAdmin))
		},
	}
	cmds = append(append([]Command(nil), cmds...), helper)

	byName := map[string]*Command{}
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		list = append(list, cc)
		byName[name] = &list[len(list)-1]
	}
	// Aliases never shadow a real command name.
	for i := range list {
		for _, a := range list[i].Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, exists := byName[a]; !exists {
				byName[a] = &list[i]
			}
		}
	}

	m.mu.Lock()
	m.cmds = byName
	m.list = list
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenuCommands(list)
		go func() {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

func (m *CommandManager) lookup(word string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cmds[word]
	if !ok || c == nil {
		return Command{}, false
	}
	return *c, true
}

func (m *CommandManager) commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.list...)
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes incoming updates onto a bounded worker pool until ctx
// is cancelled or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)

	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.mu.Lock()
	m.sup = sup
	m.mu.Unlock()
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := range workers {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
		)
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage {
				m.routeMessage(ctx, up)
			}
		}
	}
}


func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	word, args, payload, ok := parseCommand(msg.Text)
	if !ok {
		return
	}

	cmd, found := m.lookup(word)
	if !found {
		// Stay quiet in groups where other bots share the command namespace.
		if !msg.IsGroup {
			_ = m.adapter.SendText(root, msg.ChatID, msgUnknown, nil)
		}
		return
	}

	isAdmin := m.IsAdmin(msg)
	if cmd.Access == AccessAdminOnly && !isAdmin {
		m.log.Warn("unauthorized command", logx.String("cmd", cmd.Name), logx.String("chat_id", msg.ChatID), logx.String("from_id", msg.FromID))
		_ = m.adapter.SendText(root, msg.ChatID, msgUnauthorized, nil)
		return
	}

	rid := uuid.NewString()
	req := &Request{
		Update:  up,
		ChatID:  msg.ChatID,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		Payload: payload,
		IsAdmin: isAdmin,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.String("chat_id", msg.ChatID),
			logx.String("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	final := Chain(
		cmd.Handle,
		MWRequestLog(),
		MWRecover(),
		MWTimeout(cmd.Timeout),
	)
	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		_ = m.adapter.SendText(root, msg.ChatID, msgBusy, nil)
	}
}
