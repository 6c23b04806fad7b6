// Command ttyfwd spawns and controls PTY sessions: a cobra front-end over
// the supervisor and registry packages.
package main

import (
	"fmt"
	"os"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ttyfwd/ttyfwd/internal/config"
	"github.com/ttyfwd/ttyfwd/internal/ptysup"
	"github.com/ttyfwd/ttyfwd/internal/registry"
)

var cfg = config.DefaultConfig()

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ttyfwd",
	Short: "Record and control PTY sessions",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfg.ControlRoot, "control-root", cfg.ControlRoot, "directory holding all session directories")
	cfg.LoadFromEnv()

	rootCmd.AddCommand(spawnCmd, listCmd, sendTextCmd, sendKeyCmd, killCmd, cleanupCmd)
}

var spawnCmd = &cobra.Command{
	Use:   "spawn -- <command> [args...]",
	Short: "Spawn a command under a recorded PTY session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.EnsureControlRoot(); err != nil {
			return err
		}
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getwd: %w", err)
		}
		termName := os.Getenv("TERM")
		if termName == "" {
			termName = cfg.DefaultTerm
		}

		sup, err := ptysup.New(ptysup.Options{
			ControlRoot: cfg.ControlRoot,
			Cmdline:     args,
			Cwd:         cwd,
			Term:        termName,
			DefaultCols: cfg.DefaultCols,
			DefaultRows: cfg.DefaultRows,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "ttyfwd: session %s\n", sup.ID())
		code, err := sup.Run()
		if err != nil {
			return err
		}
		os.Exit(code)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := registry.List(cfg.ControlRoot)
		if err != nil {
			return err
		}
		for id, e := range entries {
			pid := "-"
			if e.Info.PID != nil {
				pid = strconv.Itoa(*e.Info.PID)
			}
			fmt.Printf("%s\t%s\t%s\tpid=%s\n", id, e.Info.Name, e.Info.Status, pid)
		}
		return nil
	},
}

var sendTextCmd = &cobra.Command{
	Use:   "send-text <session-id> <text>",
	Short: "Write text into a session's input FIFO",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return registry.SendText(cfg.ControlRoot, args[0], []byte(args[1]))
	},
}

var sendKeyCmd = &cobra.Command{
	Use:   "send-key <session-id> <key-name>",
	Short: "Send a named key (arrow_up, arrow_down, arrow_left, arrow_right, escape, enter)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return registry.SendKey(cfg.ControlRoot, args[0], args[1])
	},
}

var killCmd = &cobra.Command{
	Use:   "kill <session-id>",
	Short: "Send SIGKILL to a session's child process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return registry.SendSignal(cfg.ControlRoot, args[0], syscall.SIGKILL)
	},
}

var cleanupSpecific string

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove reapable session directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return registry.Cleanup(cfg.ControlRoot, cleanupSpecific)
	},
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupSpecific, "session", "", "clean up only this session id")
}
