package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/mimic/internal/voice"
)

func newVoicesCmd(opts *rootOptions) *cobra.Command {
	voices := &cobra.Command{
		Use:   "voices",
		Short: "Manage voice profiles",
	}
	voices.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the voice profiles on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			store, err := voice.NewStore(cfg.Voices.Dir, cfg.Voices.Default)
			if err != nil {
				return err
			}
			profiles, err := store.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(profiles) == 0 {
				fmt.Fprintf(out, "no voice profiles in %s\n", store.Root())
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDEFAULT\tTRANSCRIPT")
			for _, p := range profiles {
				def := ""
				if p.Default {
					def = "*"
				}
				transcript := "(unreadable)"
				if full, err := store.Read(p.Name); err == nil {
					transcript = transcriptSummary(full.Transcript)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, def, transcript)
			}
			return tw.Flush()
		},
	})
	return voices
}

func transcriptSummary(t string) string {
	if t == "" || t == voice.PlaceholderTranscript {
		return "(missing)"
	}
	r := []rune(t)
	if len(r) > 40 {
		return string(r[:40]) + "…"
	}
	return t
}
