package commands

import (
	"fmt"
	"strings"

	"github.com/MrWong99/mimic/internal/discord"
)

func (c *Commands) handleHelp(req *discord.Request) error {
	prefix := c.router.Prefix()

	var b strings.Builder
	b.WriteString("🤖 **mimic: cloned-voice TTS**\n\n**Commands:**")
	for _, cmd := range c.router.Commands() {
		usage := prefix + cmd.Name
		if cmd.Usage != "" {
			usage += " " + cmd.Usage
		}
		fmt.Fprintf(&b, "\n• `%s` - %s", usage, cmd.Description)
	}
	fmt.Fprintf(&b, "\n\n**Usage:**\n1. Join a voice channel\n2. Type `%stts Hello!`\n3. The bot joins your channel and speaks", prefix)
	if def := c.cfg.Profiles.Default(); def != "" {
		fmt.Fprintf(&b, "\n\n**Current voice:** %s", def)
	}
	req.Reply(b.String())
	return nil
}
