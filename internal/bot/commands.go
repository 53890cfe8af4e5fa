package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nelculobot/internal/broadcast"
	"nelculobot/internal/scheduler"
	"nelculobot/internal/storage"
	"nelculobot/internal/transport/telegram/router"
	"nelculobot/pkg/logx"
	"nelculobot/pkg/tgui"
)

// Schedule is the part of the scheduler the commands drive.
type Schedule interface {
	Interval() time.Duration
	Next() time.Time
	State() scheduler.State
	SetInterval(ctx context.Context, minutes int) error
}

type CommandDeps struct {
	Store    storage.Store
	Schedule Schedule
	Runner   *Runner
	Dispatch Dispatcher
	Log      logx.Logger
	// Restart is called after /restart has been acknowledged.
	Restart func()
	// Command is invoked for every handled command (metrics).
	Command func(name string)
}

// Commands builds the chat command set.
type Commands struct {
	d CommandDeps
}

func NewCommands(d CommandDeps) *Commands {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Commands{d: d}
}

func (c *Commands) Registry() []router.Command {
	return []router.Command{
		{Name: "start", Aliases: []string{"iscriviti"}, Description: "iscriviti alla lista di distribuzione", Handle: c.track("start", c.start)},
		{Name: "stop", Aliases: []string{"disiscriviti"}, Description: "disiscriviti", Handle: c.track("stop", c.stop)},
		{Name: "id", Description: "mostra il tuo chat ID", Handle: c.track("id", c.id)},

		{Name: "force", Description: "genera e invia subito a tutti", Access: router.AccessAdminOnly, Handle: c.track("force", c.force)},
		{Name: "users", Aliases: []string{"utenti"}, Description: "lista utenti iscritti", Access: router.AccessAdminOnly, Handle: c.track("users", c.users)},
		{Name: "setinterval", Aliases: []string{"intervallo"}, Description: "imposta l'intervallo di invio", Usage: "/setinterval <minuti>", Access: router.AccessAdminOnly, Timeout: 15 * time.Second, Handle: c.track("setinterval", c.setInterval)},
		{Name: "broadcast", Description: "invia un messaggio di testo a tutti", Usage: "/broadcast <testo>", Access: router.AccessAdminOnly, Handle: c.track("broadcast", c.broadcastText)},
		{Name: "post", Description: "pubblica un titolo a scelta", Usage: "/post <titolo> [| credito]", Access: router.AccessAdminOnly, Handle: c.track("post", c.post)},
		{Name: "import", Description: "importa iscritti in blocco", Usage: "/import <id...> | [\"id\", ...]", Access: router.AccessAdminOnly, Timeout: 30 * time.Second, Handle: c.track("import", c.importIDs)},
		{Name: "status", Aliases: []string{"stato"}, Description: "stato del bot", Access: router.AccessAdminOnly, Handle: c.track("status", c.status)},
		{Name: "restart", Description: "riavvia il bot", Access: router.AccessAdminOnly, Handle: c.track("restart", c.restart)},
	}
}

func (c *Commands) track(name string, h router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if c.d.Command != nil {
			c.d.Command(name)
		}
		return h(ctx, req)
	}
}

const (
	msgStopped     = "❌ Ti sei disiscritto. Non riceverai più aggiornamenti."
	msgNotSubbed   = "Non risulti iscritto."
	msgForcing     = "⏳ Generazione e invio a TUTTI in corso..."
	msgBusyCycle   = "⏳ Un invio è già in corso, riprova tra poco."
	msgNoSubs      = "Nessun iscritto: invio saltato."
	msgRestarting  = "🔄 Riavvio del bot in corso..."
	msgStoreFailed = "⚠️ Errore di salvataggio, riprova più tardi."
)

func (c *Commands) welcome(isAdmin bool) string {
	minutes := int(c.d.Schedule.Interval() / time.Minute)
	if minutes <= 0 {
		minutes = scheduler.DefaultMinutes
	}
	var b strings.Builder
	b.WriteString("🍑 Bot Avviato!\nSei iscritto alla lista di distribuzione.\n")
	fmt.Fprintf(&b, "Pubblicherò un film nel c*lo ogni %d minuti.\n", minutes)
	b.WriteString("Comandi:\n/stop - Disiscriviti")
	if isAdmin {
		b.WriteString("\n\n👑 Comandi Admin:\n/users - Lista utenti\n/force - Invia subito\n/setinterval - Cambia intervallo\n/broadcast - Messaggio a tutti\n/post - Pubblica un titolo\n/import - Importa iscritti\n/status - Stato\n/restart - Riavvia bot")
	}
	return b.String()
}

func (c *Commands) start(ctx context.Context, req *router.Request) error {
	added, err := c.d.Store.Add(ctx, req.ChatID)
	if err != nil {
		_ = req.Reply(ctx, msgStoreFailed)
		return err
	}
	if added {
		req.Logger.Info("subscriber added")
	}
	return req.Reply(ctx, c.welcome(req.IsAdmin))
}

func (c *Commands) stop(ctx context.Context, req *router.Request) error {
	removed, err := c.d.Store.Remove(ctx, req.ChatID)
	if err != nil {
		_ = req.Reply(ctx, msgStoreFailed)
		return err
	}
	if !removed {
		return req.Reply(ctx, msgNotSubbed)
	}
	req.Logger.Info("subscriber removed")
	return req.Reply(ctx, msgStopped)
}

func (c *Commands) id(ctx context.Context, req *router.Request) error {
	b := tgui.New().HTML("🆔 Chat ID: " + tgui.Code(req.ChatID))
	if req.FromID != "" && req.FromID != req.ChatID {
		b.HTML("👤 User ID: " + tgui.Code(req.FromID))
	}
	return req.ReplyHTML(ctx, b.Build())
}

func (c *Commands) force(ctx context.Context, req *router.Request) error {
	_ = req.Reply(ctx, msgForcing)
	res, err := c.d.Runner.Run(ctx, "force")
	return c.replyCycle(ctx, req, res, err, "Inviato")
}

func (c *Commands) post(ctx context.Context, req *router.Request) error {
	title, credit, _ := strings.Cut(req.Payload, "|")
	if strings.TrimSpace(title) == "" {
		return req.Reply(ctx, "Uso: /post <titolo> [| credito]")
	}
	_ = req.Reply(ctx, msgForcing)
	res, err := c.d.Runner.Post(ctx, title, credit)
	return c.replyCycle(ctx, req, res, err, "Pubblicato")
}

func (c *Commands) replyCycle(ctx context.Context, req *router.Request, res CycleResult, err error, verb string) error {
	switch {
	case errors.Is(err, ErrBusy):
		return req.Reply(ctx, msgBusyCycle)
	case err != nil:
		_ = req.Reply(ctx, "❌ Invio fallito: "+err.Error())
		return err
	case res.Outcome == OutcomeNoSubscribers:
		return req.Reply(ctx, msgNoSubs)
	}
	return req.Reply(ctx, fmt.Sprintf("✅ %s a %d/%d iscritti: %s", verb, res.Report.Delivered, res.Report.Total, res.Caption))
}

func (c *Commands) users(ctx context.Context, req *router.Request) error {
	ids := c.d.Store.Load(ctx).Sorted()
	b := tgui.New().Line(fmt.Sprintf("👥 Utenti iscritti: %d", len(ids)))
	if len(ids) > 0 {
		b.Blank().Bullets(ids, tgui.Code)
	}
	return req.ReplyHTML(ctx, b.Build())
}

func (c *Commands) setInterval(ctx context.Context, req *router.Request) error {
	usage := fmt.Sprintf("Uso: /setinterval <minuti> (%d-%d)", scheduler.MinMinutes, scheduler.MaxMinutes)
	if len(req.Args) != 1 {
		return req.Reply(ctx, usage)
	}
	n, err := strconv.Atoi(strings.TrimSpace(req.Args[0]))
	if err != nil || !scheduler.ValidMinutes(n) {
		return req.Reply(ctx, usage)
	}
	err = c.d.Schedule.SetInterval(ctx, n)
	next := c.d.Schedule.Next()
	msg := fmt.Sprintf("⏱ Intervallo impostato a %d minuti. Prossimo invio: %s", n, formatTime(next))
	if err != nil {
		msg += "\n⚠️ Impostazione non salvata: verrà persa al riavvio."
		_ = req.Reply(ctx, msg)
		return err
	}
	return req.Reply(ctx, msg)
}

func (c *Commands) broadcastText(ctx context.Context, req *router.Request) error {
	text := strings.TrimSpace(req.Payload)
	if text == "" {
		return req.Reply(ctx, "Uso: /broadcast <testo>")
	}
	rep := c.d.Dispatch.BroadcastText(ctx, req.ReqID, text)
	return req.Reply(ctx, fmt.Sprintf("📣 Messaggio inviato a %d/%d iscritti", rep.Delivered, rep.Total))
}

func (c *Commands) importIDs(ctx context.Context, req *router.Request) error {
	ids, err := parseIDs(req.Payload)
	if err != nil || len(ids) == 0 {
		return req.Reply(ctx, "Uso: /import <id1> <id2> ... oppure un array JSON [\"id1\", \"id2\"]")
	}
	added, err := c.d.Store.Import(ctx, ids)
	if err != nil {
		_ = req.Reply(ctx, msgStoreFailed)
		return err
	}
	total := c.d.Store.Load(ctx).Len()
	return req.Reply(ctx, fmt.Sprintf("📥 Importati %d nuovi iscritti (totale: %d)", added, total))
}

func (c *Commands) status(ctx context.Context, req *router.Request) error {
	b := tgui.New().Title("📊", "Stato").
		KV("Intervallo", fmt.Sprintf("%d minuti", int(c.d.Schedule.Interval()/time.Minute))).
		KV("Prossimo invio", formatTime(c.d.Schedule.Next())).
		KV("Scheduler", c.d.Schedule.State().String()).
		KV("Iscritti", fmt.Sprintf("%d (%s)", c.d.Store.Load(ctx).Len(), c.d.Store.Driver()))
	last, ok := c.d.Runner.Last()
	if !ok {
		return req.ReplyHTML(ctx, b.KV("Ultimo ciclo", "nessuno").Build())
	}
	b.KV("Ultimo ciclo", fmt.Sprintf("%s (%s, %s)", formatTime(last.At), last.Outcome, last.Trigger))
	if last.Caption != "" {
		b.KV("Titolo", tgui.TruncRunes(last.Caption, 200))
	}
	if last.Outcome == OutcomeSent {
		b.KV("Consegnati", fmt.Sprintf("%d/%d", last.Report.Delivered, last.Report.Total))
	}
	return req.ReplyHTML(ctx, b.Build())
}

func (c *Commands) restart(ctx context.Context, req *router.Request) error {
	err := req.Reply(ctx, msgRestarting)
	req.Logger.Warn("restart requested")
	if c.d.Restart != nil {
		c.d.Restart()
	}
	return err
}

// parseIDs accepts a JSON array (strings or numbers) or a list separated by
// spaces, commas, semicolons or newlines.
func parseIDs(payload string) ([]string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, nil
	}
	if strings.HasPrefix(payload, "[") {
		var raw []json.RawMessage
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			return nil, fmt.Errorf("import: %w", err)
		}
		out := make([]string, 0, len(raw))
		for _, r := range raw {
			var s string
			if json.Unmarshal(r, &s) == nil {
				out = append(out, s)
				continue
			}
			var n json.Number
			if json.Unmarshal(r, &n) == nil {
				out = append(out, n.String())
				continue
			}
			return nil, fmt.Errorf("import: unsupported element %s", string(r))
		}
		return out, nil
	}
	return strings.FieldsFunc(payload, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', ',', ';':
			return true
		}
		return false
	}), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("02/01/2006 15:04:05")
}

var _ Dispatcher = (*broadcast.Dispatcher)(nil)
