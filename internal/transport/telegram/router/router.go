package router

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	kit "remindd/internal/transport"
	logx "remindd/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access

	Timeout time.Duration // optional per-command override
	// Middleware wraps Handle after the router's own chain, e.g. a cooldown.
	Middleware []Middleware
	Handle     HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	// Text is everything after the command word, verbatim.
	Text    string
	IsOwner bool
	ReqID   string
	Logger  logx.Logger

	sender kit.Sender
}

// Reply sends text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	return r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
}

// ReplyHTML is Reply with HTML parse mode.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	return r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
}

// Poster queues work onto the host loop without waiting for it.
type Poster interface {
	Post(ctx context.Context, fn func(ctx context.Context) error) error
}

// Router parses slash commands and runs their handlers on the host loop,
// so chat handlers and loop-bound job actions never interleave.
type Router struct {
	log    logx.Logger
	sender kit.Sender
	loop   Poster

	mu     sync.RWMutex
	byName map[string]*Command
	cmds   []Command
	owners []int64
}

func New(log logx.Logger, sender kit.Sender, loop Poster) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{log: log, sender: sender, loop: loop, byName: map[string]*Command{}}
	r.Register(Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "list commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, r.helpText(req.Args, req.IsOwner))
		},
	})
	return r
}

// Register adds commands. A later command with a taken name or alias
// replaces the earlier binding.
func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		r.cmds = slices.DeleteFunc(r.cmds, func(o Command) bool { return o.Name == name })
		r.cmds = append(r.cmds, c)
	}
	sort.Slice(r.cmds, func(i, j int) bool { return r.cmds[i].Name < r.cmds[j].Name })

	byName := make(map[string]*Command, len(r.cmds)*2)
	for i := range r.cmds {
		c := &r.cmds[i]
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" && !strings.Contains(a, " ") {
				byName[a] = c
			}
		}
	}
	for i := range r.cmds {
		byName[r.cmds[i].Name] = &r.cmds[i]
	}
	r.byName = byName
}

// Commands lists registered commands by name.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.cmds...)
}

// SetOwners replaces the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// PublishMenu pushes the command list to the platform menu when the sender
// supports one.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.sender.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, buildMenu(r.Commands()))
}

// Run routes updates until ctx ends or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	r.log.Info("command dispatcher started", logx.Int("commands", len(r.Commands())))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("command dispatcher stopped")
			return nil
		case up, ok := <-updates:
			if !ok {
				r.log.Info("command dispatcher stopped (updates channel closed)")
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

// Route dispatches one update. Non-command text is ignored.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	word, rest, ok := splitCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	r.mu.RLock()
	c, found := r.byName[word]
	var cmd Command
	if found {
		cmd = *c
	}
	r.mu.RUnlock()
	if !found {
		_ = r.sender.SendText(ctx, chat, "unknown command. try /help", nil)
		return
	}

	owner := r.isOwner(msg.FromID)
	if cmd.Access == AccessOwnerOnly && !owner {
		_ = r.sender.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      cmd.Name,
		Args:         strings.Fields(rest),
		Text:         rest,
		IsOwner:      owner,
		ReqID:        rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
		sender: r.sender,
	}

	mws := append([]Middleware{
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(cmd.Timeout),
	}, cmd.Middleware...)
	final := Chain(cmd.Handle, mws...)

	if err := r.loop.Post(ctx, func(ctx context.Context) error { return final(ctx, req) }); err != nil {
		r.log.Warn("command rejected", logx.String("cmd", cmd.Name), logx.Err(err))
		_ = r.sender.SendText(ctx, chat, "busy, try again", nil)
	}
}

// splitCommand returns the lowercased command word without its leading
// slash or @botname suffix, and the raw remainder.
func splitCommand(text string) (word, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	word, rest, _ = strings.Cut(text[1:], " ")
	if i := strings.IndexByte(word, '\n'); i >= 0 {
		rest = word[i+1:] + " " + rest
		word = word[:i]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	if word == "" {
		return "", "", false
	}
	return word, strings.TrimSpace(rest), true
}

func newReqID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
