// Command eventctl publishes workflow events by hand, for operators and for
// the inspection workflow that lives outside this repository.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/med-el-mrabet/InterConnect/internal/config"
	"github.com/med-el-mrabet/InterConnect/internal/events"
	platformkafka "github.com/med-el-mrabet/InterConnect/internal/platform/kafka"
	"github.com/med-el-mrabet/InterConnect/pkg/outbox"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "eventctl",
		Short:        "Inspect and publish InterConnect workflow events",
		SilenceUsage: true,
	}
	root.AddCommand(newKindsCmd(), newPublishCmd(nil))
	return root
}

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the event kinds (one topic each)",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, k := range events.Kinds() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
		},
	}
}

// newPublishCmd builds the publish command. A nil producer means a writer on
// the configured brokers.
func newPublishCmd(producer outbox.Producer) *cobra.Command {
	var (
		kind    string
		file    string
		source  string
		brokers string
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Validate a JSON payload against its kind and publish it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readPayload(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			if producer == nil {
				list := strings.Split(brokers, ",")
				w := platformkafka.NewWriter(list)
				defer w.Close()
				producer = w
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			env, err := publish(ctx, producer, events.Kind(kind), data, source, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s event_id=%s\n", env.Kind, env.EventID)
			return nil
		},
	}

	config.Load()
	defaultBrokers := os.Getenv("KAFKA_BROKERS")
	if defaultBrokers == "" {
		defaultBrokers = "localhost:9092"
	}
	cmd.Flags().StringVar(&kind, "kind", "", "event kind, e.g. inspection.completed")
	cmd.Flags().StringVar(&file, "file", "-", "JSON payload file, - for stdin")
	cmd.Flags().StringVar(&source, "source", "eventctl", "source_service header value")
	cmd.Flags().StringVar(&brokers, "brokers", defaultBrokers, "comma-separated kafka brokers")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func readPayload(stdin io.Reader, file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(file)
}

func publish(ctx context.Context, producer outbox.Producer, kind events.Kind, data []byte, source string, now time.Time) (events.Envelope, error) {
	if !kind.Valid() {
		return events.Envelope{}, fmt.Errorf("%w %q", events.ErrUnknownKind, kind)
	}
	ev, err := events.Decode(kind, data)
	if err != nil {
		return events.Envelope{}, fmt.Errorf("payload for %s: %w", kind, err)
	}
	env := events.NewEnvelope(source, ev, now)
	msg, err := env.Message("")
	if err != nil {
		return events.Envelope{}, err
	}
	if err := producer.WriteMessages(ctx, msg); err != nil {
		return events.Envelope{}, fmt.Errorf("publish %s: %w", kind, err)
	}
	return env, nil
}
