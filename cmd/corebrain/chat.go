package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bassam-st/AI-Core-Engine--sub000/internal/app"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/pipeline"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Ask a question, or start an interactive session without arguments",
}

func runChatCmd(a *app.App, cmd *cobra.Command, args []string) error {
	ctx := a.ContextWithLogger(cmd.Context())
	out := cmd.OutOrStdout()

	if len(args) > 0 {
		printReply(out, a.Pipeline.Chat(ctx, strings.Join(args, " ")))
		return nil
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "exit" || line == "quit" {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		printReply(out, a.Pipeline.Chat(ctx, line))
		fmt.Fprint(out, "\n> ")
	}
	return scanner.Err()
}

func printReply(out io.Writer, reply pipeline.Reply) {
	fmt.Fprintln(out, reply.Text)
	if len(reply.Sources) == 0 {
		return
	}
	fmt.Fprintln(out, "\nSources:")
	for _, s := range reply.Sources {
		fmt.Fprintf(out, "  - %s <%s>\n", s.Title, s.URL)
	}
}

var serveNoSchedule bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the learning scheduler",
}

func runServeCmd(a *app.App, cmd *cobra.Command, _ []string) error {
	logger := a.Core.Logger
	srv := a.NewServer()
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", a.Core.Config.ListenAddress)

	if !serveNoSchedule {
		sched, err := a.NewScheduler()
		if err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				logger.Warn("Scheduler did not stop cleanly", zap.Error(err))
			}
		}()
		logger.Info("Learning scheduled", zap.String("schedule", a.Core.Config.LearnSchedule))
	}

	<-cmd.Context().Done()
	logger.Info("Shutdown requested")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(stopCtx)
}
