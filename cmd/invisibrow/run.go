package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"invisibrow/internal/events"
	"invisibrow/internal/task"
)

var (
	runSession  string
	runHeadless bool
)

var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Run a single goal and stream progress to stdout",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		goal := args[0]
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		sessionID := runSession
		if sessionID == "" {
			sess, err := a.defaultSession()
			if err != nil {
				return err
			}
			sessionID = sess.ID
		}
		if cmd.Flags().Changed("headless") {
			if err := a.sessions.SetHeadless(sessionID, runHeadless); err != nil {
				return err
			}
		}

		ch, unsubscribe := a.bus.Subscribe(events.KindLog, events.KindVerificationNeeded)
		defer unsubscribe()

		taskID, err := a.scheduler.Submit(sessionID, goal)
		if err != nil {
			return err
		}
		logger.Info("task submitted", zap.String("task", taskID), zap.String("session", sessionID))

		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = a.scheduler.Stop(taskID)
				// Let the worker reach its terminal persist.
				deadline := time.Now().Add(5 * time.Second)
				for time.Now().Before(deadline) {
					if t, ok := a.tasks.Get(taskID); ok && t.Status.IsTerminal() {
						break
					}
					time.Sleep(50 * time.Millisecond)
				}
				return fmt.Errorf("interrupted")
			case ev := <-ch:
				switch ev.Kind {
				case events.KindLog:
					fmt.Printf("[%s] %s\n", ev.Level, ev.Message)
				case events.KindVerificationNeeded:
					fmt.Printf("!! verification needed (%s): %s\n", ev.Reason, ev.URL)
					fmt.Println("   solve it in the browser window, then press Enter")
					go func(sessionID string) {
						fmt.Scanln()
						a.bus.Publish(events.Event{Kind: events.KindVerificationResolved, SessionID: sessionID})
					}(ev.SessionID)
				}
			case <-ticker.C:
				t, ok := a.tasks.Get(taskID)
				if !ok || !t.Status.IsTerminal() {
					continue
				}
				return printOutcome(t)
			}
		}
	},
}

func init() {
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "session id (default: the default session)")
	runCmd.Flags().BoolVar(&runHeadless, "headless", true, "override the session's headless preference for this run")
}

func printOutcome(t task.Task) error {
	switch t.Status {
	case task.StatusCompleted:
		fmt.Printf("completed: %s\n", t.Result)
		if t.URL != "" {
			fmt.Printf("url: %s\n", t.URL)
		}
		fmt.Printf("tokens: %d in / %d out (est. $%.4f)\n",
			t.TokenUsage.InputTokens, t.TokenUsage.OutputTokens, t.TokenUsage.Cost)
		return nil
	case task.StatusCancelled:
		return fmt.Errorf("task cancelled")
	default:
		return fmt.Errorf("task failed: %s", t.Error)
	}
}
