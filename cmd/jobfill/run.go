package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"

	"github.com/tbxark/jobfill/profile"
	"github.com/tbxark/jobfill/workflow"
)

func runCmd() *cobra.Command {
	var (
		url    string
		submit bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract, map and fill one application form",
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" && len(args) > 0 {
				url = args[0]
			}
			if url == "" {
				return errors.New("a form url is required (--url)")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = profile.WithUserID(ctx, cfg.Profile.UserID)

			var cl closers
			defer func() { _ = cl.Close() }()
			orchestrator, err := newOrchestrator(ctx, cfg, submit, &cl)
			if err != nil {
				return err
			}
			return runAgent(ctx, workflow.NewAgent("jobfill", "Fills job application forms from the stored profile.", orchestrator), url)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "application form url")
	cmd.Flags().BoolVar(&submit, "submit", false, "submit the form when every required field is filled")
	return cmd
}

func runAgent(ctx context.Context, agent adk.Agent, url string) error {
	runner := adk.NewRunner(ctx, adk.RunnerConfig{Agent: agent})
	iter := runner.Run(ctx, []*schema.Message{schema.UserMessage(url)})
	for {
		event, ok := iter.Next()
		if !ok {
			return nil
		}
		if event.Err != nil {
			return event.Err
		}
		if event.Output == nil || event.Output.MessageOutput == nil {
			continue
		}
		msg, err := event.Output.MessageOutput.GetMessage()
		if err != nil {
			return err
		}
		fmt.Println(msg.Content)
	}
}
