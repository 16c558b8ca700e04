package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snake-arena/internal/kafka"
)

func newLoadgenCmd(opts *options) *cobra.Command {
	var (
		brokers  []string
		topic    string
		users    []string
		rate     int
		count    int
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Publish synthetic score submissions to Kafka",
		Long: `loadgen publishes {user_id, mode, score} messages to the score topic at a
fixed rate. The user ids must belong to existing accounts; messages for
unknown users are rejected by the server.`,
		Example: "  snake-arena loadgen --users 6f1c...,9a2e... --rate 50 --count 1000",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if len(brokers) > 0 {
				cfg.Kafka.Brokers = brokers
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			gen, err := kafka.NewLoadGenerator(&cfg.Kafka, kafka.LoadGenConfig{
				Topic:   topic,
				UserIDs: users,
				Rate:    rate,
				Count:   count,
			}, logger)
			if err != nil {
				return err
			}

			stats, err := gen.Run(ctx)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "sent %d, acked %d, errors %d\n", stats.Sent, stats.Acked, stats.Errors)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&brokers, "brokers", nil, "Kafka brokers (defaults to kafka.brokers)")
	cmd.Flags().StringVar(&topic, "topic", "", "Topic (defaults to kafka.score_topic)")
	cmd.Flags().StringSliceVar(&users, "users", nil, "User ids to submit scores for")
	cmd.Flags().IntVar(&rate, "rate", 100, "Messages per second")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many messages (0 = until interrupted)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 = until interrupted)")
	_ = cmd.MarkFlagRequired("users")
	return cmd
}
