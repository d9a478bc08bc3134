package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage browser sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(context.Background())
		if err != nil {
			return err
		}
		defer a.close()

		for _, s := range a.sessions.List() {
			mode := "headless"
			if !s.Headless {
				mode = "gui"
			}
			if s.IsVerifying {
				mode += "/verifying"
			}
			fmt.Printf("%s  %-20s %-8s tokens=%d cost=$%.4f tasks=%d\n",
				s.ID, s.Name, mode, s.Stats.Tokens, s.Stats.Cost, len(s.SessionHistory))
		}
		return nil
	},
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(context.Background())
		if err != nil {
			return err
		}
		defer a.close()

		sess, err := a.sessions.Create(args[0], a.cfg.HeadlessDefault)
		if err != nil {
			return err
		}
		fmt.Println(sess.ID)
		return nil
	},
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename [id] [name]",
	Short: "Rename a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(context.Background())
		if err != nil {
			return err
		}
		defer a.close()
		return a.sessions.Rename(args[0], args[1])
	},
}

var sessionsToggleCmd = &cobra.Command{
	Use:   "toggle-headless [id]",
	Short: "Flip a session's headless preference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(context.Background())
		if err != nil {
			return err
		}
		defer a.close()

		headless, err := a.sessions.ToggleHeadless(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("headless=%v\n", headless)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(context.Background())
		if err != nil {
			return err
		}
		defer a.close()
		return a.sessions.Delete(args[0])
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsCreateCmd)
	sessionsCmd.AddCommand(sessionsRenameCmd)
	sessionsCmd.AddCommand(sessionsToggleCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}
