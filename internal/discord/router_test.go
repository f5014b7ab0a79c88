package discord

import (
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/mimic/internal/discord/mock"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

func message(userID, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "msg-1",
		ChannelID: "text-1",
		GuildID:   "g1",
		Content:   content,
		Author:    &discordgo.User{ID: userID},
	}}
}

// recorder registers cmd with a handler that records its request and
// returns err.
func recorder(r *Router, cmd Command, err error) *[]*Request {
	var got []*Request
	cmd.Handler = func(req *Request) error {
		got = append(got, req)
		return err
	}
	r.Register(cmd)
	return &got
}

// ─── parse ───────────────────────────────────────────────────────────────────

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		content  string
		wantName string
		wantArgs string
		wantOK   bool
	}{
		{"!tts hello world", "tts", "hello world", true},
		{"  !TTS   spaced  out  ", "tts", "spaced  out", true},
		{"!join", "join", "", true},
		{"!tts\nmulti\nline", "tts", "multi\nline", true},
		{"!", "", "", false},
		{"! tts", "", "", false},
		{"tts hello", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			t.Parallel()
			name, args, ok := parse("!", tt.content)
			if ok != tt.wantOK || name != tt.wantName || args != tt.wantArgs {
				t.Errorf("parse(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.content, name, args, ok, tt.wantName, tt.wantArgs, tt.wantOK)
			}
		})
	}
}

// ─── Handle ──────────────────────────────────────────────────────────────────

func TestRouter_Dispatch(t *testing.T) {
	t.Parallel()

	r := NewRouter("", nil)
	got := recorder(r, Command{Name: "tts", ArgName: "text"}, nil)
	s := &mock.Session{}

	r.Handle(s, message("u1", "!tts  hello there "))
	if len(*got) != 1 {
		t.Fatalf("handler calls = %d, want 1", len(*got))
	}
	req := (*got)[0]
	if req.Args != "hello there" || req.Command != "tts" || req.GuildID != "g1" {
		t.Errorf("request = %+v", req)
	}
	if req.ID == "" {
		t.Error("request ID not set")
	}
	if len(s.Replies()) != 0 {
		t.Errorf("unexpected replies: %v", s.Replies())
	}
}

func TestRouter_Ignores(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  *discordgo.MessageCreate
	}{
		{name: "unknown command", msg: message("u1", "!dance")},
		{name: "no prefix", msg: message("u1", "tts hello")},
		{name: "bot author", msg: func() *discordgo.MessageCreate {
			m := message("u1", "!tts hi")
			m.Author.Bot = true
			return m
		}()},
		{name: "other guild", msg: func() *discordgo.MessageCreate {
			m := message("u1", "!tts hi")
			m.GuildID = "g2"
			return m
		}()},
		{name: "nil author", msg: &discordgo.MessageCreate{Message: &discordgo.Message{Content: "!tts hi"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewRouter("!", nil, WithGuild("g1"))
			got := recorder(r, Command{Name: "tts"}, nil)
			s := &mock.Session{}
			r.Handle(s, tt.msg)
			if len(*got) != 0 {
				t.Errorf("handler called %d times, want 0", len(*got))
			}
			if len(s.Replies()) != 0 {
				t.Errorf("unexpected replies: %v", s.Replies())
			}
		})
	}
}

func TestRouter_Checks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cmd       Command
		content   string
		userID    string
		inVoice   bool
		wantCalls int
		wantReply string
	}{
		{
			name:      "missing argument names it",
			cmd:       Command{Name: "clone", ArgName: "name"},
			content:   "!clone",
			wantReply: "`name`",
		},
		{
			name:      "voice required but absent",
			cmd:       Command{Name: "join", RequiresVoice: true},
			content:   "!join",
			wantReply: "voice channel",
		},
		{
			name:      "voice required and present",
			cmd:       Command{Name: "join", RequiresVoice: true},
			content:   "!join",
			inVoice:   true,
			wantCalls: 1,
		},
		{
			name:      "admin only by non-admin",
			cmd:       Command{Name: "clone", AdminOnly: true},
			content:   "!clone x",
			userID:    "guest",
			wantReply: "admins only",
		},
		{
			name:      "admin only by admin",
			cmd:       Command{Name: "clone", AdminOnly: true},
			content:   "!clone x",
			userID:    "admin",
			wantCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := NewRouter("!", NewPermissionChecker([]string{"admin"}, ""))
			got := recorder(r, tt.cmd, nil)
			user := tt.userID
			if user == "" {
				user = "u1"
			}
			s := &mock.Session{VoiceChannels: map[string]string{}}
			if tt.inVoice {
				s.VoiceChannels[user] = "voice-7"
			}

			r.Handle(s, message(user, tt.content))
			if len(*got) != tt.wantCalls {
				t.Fatalf("handler calls = %d, want %d", len(*got), tt.wantCalls)
			}
			if tt.wantReply != "" && !strings.Contains(s.LastReply(), tt.wantReply) {
				t.Errorf("reply = %q, want it to contain %q", s.LastReply(), tt.wantReply)
			}
			if tt.wantCalls == 1 && tt.inVoice && (*got)[0].VoiceChannelID != "voice-7" {
				t.Errorf("VoiceChannelID = %q, want voice-7", (*got)[0].VoiceChannelID)
			}
		})
	}
}

func TestRouter_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantReply string
	}{
		{name: "user error verbatim", err: UserErrorf("❌ No such voice"), wantReply: "❌ No such voice"},
		{name: "wrapped user error shows message only", err: WrapUserError(errors.New("secret detail"), "❌ Could not join"), wantReply: "❌ Could not join"},
		{name: "internal error is generic", err: errors.New("disk on fire"), wantReply: genericFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewRouter("!", nil)
			recorder(r, Command{Name: "tts"}, tt.err)
			s := &mock.Session{}
			r.Handle(s, message("u1", "!tts hi"))

			replies := s.Replies()
			if len(replies) != 1 {
				t.Fatalf("replies = %d, want 1", len(replies))
			}
			if replies[0].Content != tt.wantReply {
				t.Errorf("reply = %q, want %q", replies[0].Content, tt.wantReply)
			}
			if replies[0].Reference == nil || replies[0].Reference.MessageID != "msg-1" {
				t.Errorf("reply does not reference the command message: %+v", replies[0].Reference)
			}
		})
	}
}

func TestRouter_RegisterAndPrefix(t *testing.T) {
	t.Parallel()

	r := NewRouter("?", nil)
	for _, n := range []string{"tts", "Join", "help"} {
		r.Register(Command{Name: n, Handler: func(*Request) error { return nil }})
	}
	r.Register(Command{Name: "tts", Description: "replaced", Handler: func(*Request) error { return nil }})

	cmds := r.Commands()
	var names []string
	for _, c := range cmds {
		names = append(names, c.Name)
	}
	if strings.Join(names, ",") != "tts,join,help" {
		t.Errorf("Commands = %v, want [tts join help]", names)
	}
	if cmds[0].Description != "replaced" {
		t.Errorf("re-registered command not replaced")
	}

	if r.Prefix() != "?" {
		t.Errorf("Prefix = %q, want ?", r.Prefix())
	}
	r.SetPrefix("")
	if r.Prefix() != "?" {
		t.Errorf("empty SetPrefix changed prefix to %q", r.Prefix())
	}
	r.SetPrefix("$")

	got := recorder(r, Command{Name: "stop"}, nil)
	r.Handle(&mock.Session{}, message("u1", "$stop"))
	r.Handle(&mock.Session{}, message("u1", "?stop"))
	if len(*got) != 1 {
		t.Errorf("handler calls = %d, want 1", len(*got))
	}
}

func TestReply_Truncates(t *testing.T) {
	t.Parallel()

	s := &mock.Session{}
	Reply(s, &discordgo.Message{ID: "m", ChannelID: "c"}, strings.Repeat("가", maxMessageLen+10))
	if n := len([]rune(s.LastReply())); n != maxMessageLen {
		t.Errorf("reply length = %d runes, want %d", n, maxMessageLen)
	}
}
