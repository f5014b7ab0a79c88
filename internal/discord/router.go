package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/MrWong99/mimic/internal/observe"
)

// DefaultPrefix is the command prefix used when none is configured.
const DefaultPrefix = "!"

// genericFailure is shown to the user for any error that is not a [UserError].
const genericFailure = "❌ Something went wrong while running that command. Please try again later."

// HandlerFunc handles one command invocation. A returned [UserError] is shown
// to the user verbatim; any other error is logged and answered with a generic
// failure message.
type HandlerFunc func(req *Request) error

// Command describes a prefix command.
type Command struct {
	// Name is matched case-insensitively against the word after the prefix.
	Name string

	// Usage is the argument synopsis shown in help, e.g. "<text>".
	Usage string

	// Description is the one-line help text.
	Description string

	// ArgName names the required argument. When set, an invocation without
	// arguments is rejected before the handler runs.
	ArgName string

	// RequiresVoice rejects invocations by users outside a voice channel.
	RequiresVoice bool

	// AdminOnly rejects invocations by non-admins.
	AdminOnly bool

	Handler HandlerFunc
}

// Request is a single command invocation.
type Request struct {
	// Ctx carries the request ID and log attributes. It is not cancelled
	// when the handler returns early.
	Ctx context.Context

	Session Session
	Message *discordgo.Message

	// ID identifies the request in logs.
	ID string

	// Command is the matched command name.
	Command string

	// Args is everything after the command name, trimmed.
	Args string

	GuildID string

	// VoiceChannelID is the voice channel of the author, resolved for
	// commands that require one.
	VoiceChannelID string

	// IsAdmin reports whether the author passed the admin check.
	IsAdmin bool
}

// Reply answers the invoking message.
func (r *Request) Reply(content string) {
	Reply(r.Session, r.Message, content)
}

// Replyf answers the invoking message with a formatted string.
func (r *Request) Replyf(format string, args ...any) {
	Reply(r.Session, r.Message, fmt.Sprintf(format, args...))
}

// Typing shows the typing indicator in the invoking channel.
func (r *Request) Typing() {
	Typing(r.Session, r.Message)
}

// Logger returns a logger carrying the request's attributes.
func (r *Request) Logger() *slog.Logger {
	return observe.Logger(r.Ctx)
}

// RouterOption configures a [Router].
type RouterOption func(*Router)

// WithGuild restricts the router to messages from guildID.
func WithGuild(guildID string) RouterOption {
	return func(r *Router) {
		r.guildID = guildID
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) RouterOption {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithBaseContext sets the parent context of every request.
func WithBaseContext(ctx context.Context) RouterOption {
	return func(r *Router) {
		r.baseCtx = ctx
	}
}

// Router dispatches prefix commands from chat messages to handlers.
type Router struct {
	mu       sync.RWMutex
	prefix   string
	commands map[string]Command
	order    []string

	perms   *PermissionChecker
	guildID string
	metrics *observe.Metrics
	baseCtx context.Context
}

// NewRouter creates an empty router. An empty prefix selects [DefaultPrefix].
func NewRouter(prefix string, perms *PermissionChecker, opts ...RouterOption) *Router {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if perms == nil {
		perms = NewPermissionChecker(nil, "")
	}
	r := &Router{
		prefix:   prefix,
		commands: make(map[string]Command),
		perms:    perms,
		baseCtx:  context.Background(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Register adds cmd, replacing any command of the same name.
func (r *Router) Register(cmd Command) {
	name := strings.ToLower(cmd.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[name]; !ok {
		r.order = append(r.order, name)
	}
	cmd.Name = name
	r.commands[name] = cmd
}

// Commands returns the registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.commands[n])
	}
	return out
}

// Prefix returns the current command prefix.
func (r *Router) Prefix() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prefix
}

// SetPrefix changes the command prefix. Empty values are ignored.
func (r *Router) SetPrefix(prefix string) {
	if prefix == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefix = prefix
}

// Permissions returns the router's permission checker.
func (r *Router) Permissions() *PermissionChecker {
	return r.perms
}

// parse splits content into a command name and its arguments. ok is false
// when content does not start with prefix followed by a name.
func parse(prefix, content string) (name, args string, ok bool) {
	content = strings.TrimSpace(content)
	rest, found := strings.CutPrefix(content, prefix)
	if !found || rest == "" || unicode.IsSpace(rune(rest[0])) {
		return "", "", false
	}
	name, args, _ = strings.Cut(rest, " ")
	if i := strings.IndexFunc(name, unicode.IsSpace); i >= 0 {
		name, args = name[:i], name[i:]+" "+args
	}
	return strings.ToLower(name), strings.TrimSpace(args), true
}

// Handle dispatches one chat message. Messages from bots, from other guilds
// or without the prefix are ignored, as are unknown commands.
func (r *Router) Handle(s Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if r.guildID != "" && m.GuildID != r.guildID {
		return
	}

	name, args, ok := parse(r.Prefix(), m.Content)
	if !ok {
		return
	}
	r.mu.RLock()
	cmd, known := r.commands[name]
	r.mu.RUnlock()
	if !known {
		slog.Debug("discord: ignoring unknown command", "command", name, "user", m.Author.ID)
		return
	}

	id := uuid.NewString()
	ctx := observe.WithLogAttrs(r.baseCtx,
		"request_id", id,
		"command", name,
		"user", m.Author.ID,
		"guild", m.GuildID,
	)
	req := &Request{
		Ctx:     ctx,
		Session: s,
		Message: m.Message,
		ID:      id,
		Command: name,
		Args:    args,
		GuildID: m.GuildID,
		IsAdmin: r.perms.IsAdmin(m.Author.ID, m.Member),
	}

	err := r.dispatch(cmd, req)
	r.metrics.RecordCommand(ctx, name, commandStatus(err))
	if err == nil {
		return
	}
	log := observe.Logger(ctx)
	if ue, ok := AsUserError(err); ok {
		if ue.Err != nil {
			log.Warn("discord: command failed", "err", ue.Err)
		}
		req.Reply(ue.Msg)
		return
	}
	log.Error("discord: command failed", "err", err)
	req.Reply(genericFailure)
}

func (r *Router) dispatch(cmd Command, req *Request) error {
	if cmd.AdminOnly && !req.IsAdmin {
		return UserErrorf("❌ You are not allowed to run this command (admins only).")
	}
	if cmd.ArgName != "" && req.Args == "" {
		return UserErrorf("❌ Missing required argument: `%s`", cmd.ArgName)
	}
	if cmd.RequiresVoice {
		req.VoiceChannelID = req.Session.UserVoiceChannel(req.GuildID, req.Message.Author.ID)
		if req.VoiceChannelID == "" {
			return UserErrorf("❌ Join a voice channel first!")
		}
		req.Ctx = observe.WithLogAttrs(req.Ctx, "channel", req.VoiceChannelID)
	}
	return cmd.Handler(req)
}

func commandStatus(err error) string {
	if err == nil {
		return "ok"
	}
	if _, ok := AsUserError(err); ok {
		return "rejected"
	}
	return "error"
}
