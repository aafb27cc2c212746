package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fixline/engine/internal/fixconfig"
)

// sessionsCmd prints the sessions configured in the engine's YAML
// document, one line per session, with no flags beyond --config. On a
// terminal the columns are padded for reading; piped output is plain
// tab-separated fields.
func sessionsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List the sessions configured in the engine's YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fixconfig.Load(configPath)
			if err != nil {
				return err
			}
			if len(cfg.Sessions) == 0 {
				fmt.Println("no sessions configured")
				return nil
			}
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				for _, s := range cfg.Sessions {
					fmt.Printf("%s\t%s\t%s\t%s\t%s:%d\t%d\n",
						s.Name, s.Role, s.BeginString, s.SessionID(), s.Host, s.Port, s.HeartbeatInterval)
				}
				return nil
			}
			width, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err != nil {
				width = 80
			}
			nameWidth := 20
			if width < 100 {
				nameWidth = 12
			}
			for _, s := range cfg.Sessions {
				name := s.Name
				if len(name) > nameWidth {
					name = name[:nameWidth-1] + "…"
				}
				fmt.Printf("%-*s %-9s %-9s %-30s %s:%d  hb=%ds\n",
					nameWidth, name, s.Role, s.BeginString, s.SessionID(), s.Host, s.Port, s.HeartbeatInterval)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "fixengine.yaml", "path to the engine YAML configuration")
	return cmd
}
