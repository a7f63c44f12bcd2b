package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/kata/internal/config"
	"github.com/felixgeelhaar/kata/internal/domain"
	"github.com/felixgeelhaar/kata/internal/queue"
)

var (
	eventsURL  string
	eventsOnly string

	eventsCmd = &cobra.Command{
		Use:   "events",
		Short: "Tail verdict and interaction events from RabbitMQ",
		Args:  cobra.NoArgs,
		RunE:  runEvents,
	}
)

func init() {
	eventsCmd.Flags().StringVar(&eventsURL, "url", "", "AMQP URL (default from config)")
	eventsCmd.Flags().StringVar(&eventsOnly, "only", "", "only tail one stream: verdicts or interactions")
}

func runEvents(cmd *cobra.Command, args []string) error {
	url := eventsURL
	if url == "" {
		cfg, err := config.LoadLocalConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		url = cfg.Events.AMQPURL
	}

	handlers, err := eventHandlers(cmd.OutOrStdout(), eventsOnly)
	if err != nil {
		return err
	}

	conn, err := queue.NewConnection(url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer := queue.NewConsumer(conn, handlers, queue.DefaultConsumerConfig())
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Tailing events, Ctrl-C to stop")

	<-ctx.Done()
	consumer.Stop()
	return nil
}

// eventHandlers prints events as text, or as JSON lines with --json
func eventHandlers(w io.Writer, only string) (queue.Handlers, error) {
	var h queue.Handlers
	enc := json.NewEncoder(w)

	verdicts := func(ctx context.Context, e *domain.VerdictEvent) error {
		if jsonOutput {
			return enc.Encode(e)
		}
		who := e.UserID
		if who == "" {
			who = "anonymous"
		}
		_, err := fmt.Fprintf(w, "%s verdict     %-12s %-24s %s %dms\n",
			e.At.Format("15:04:05"), who, e.ExerciseID, e.Kind, e.DurationMS)
		return err
	}
	interactions := func(ctx context.Context, e *domain.InteractionEvent) error {
		if jsonOutput {
			return enc.Encode(e)
		}
		_, err := fmt.Fprintf(w, "%s interaction %-12s %-24s %s -> %s starred=%t solved=%t (%d/%d)\n",
			e.At.Format("15:04:05"), e.UserID, e.ExerciseID, e.Intent, e.Affinity,
			e.Starred, e.Solved, e.Likes, e.Dislikes)
		return err
	}

	switch only {
	case "":
		h.Verdict, h.Interaction = verdicts, interactions
	case "verdicts":
		h.Verdict = verdicts
	case "interactions":
		h.Interaction = interactions
	default:
		return h, fmt.Errorf("unknown stream %q (want verdicts or interactions)", only)
	}
	return h, nil
}
