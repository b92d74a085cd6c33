package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/agui-gateway/internal/agui"
	"github.com/capitalize-ai/agui-gateway/internal/model"
)

var (
	eventsAfter uint64
	eventsLimit int
)

var eventsCmd = &cobra.Command{
	Use:   "events <thread-id> <run-id>",
	Short: "Print a run's recorded lifecycle events as JSON lines",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		streams, closeFn, err := connect(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		key := agui.Key(args[0], args[1])
		after := eventsAfter
		printed := 0
		for eventsLimit <= 0 || printed < eventsLimit {
			batch := 100
			if eventsLimit > 0 && eventsLimit-printed < batch {
				batch = eventsLimit - printed
			}

			events, lastSeq, hasMore, err := streams.GetRunEvents(ctx, tenantID, key, after, batch)
			if err != nil {
				return fmt.Errorf("read run events: %w", err)
			}
			if err := writeEventLines(os.Stdout, events); err != nil {
				return err
			}
			printed += len(events)
			if !hasMore || lastSeq <= after {
				break
			}
			after = lastSeq
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().Uint64Var(&eventsAfter, "after", 0, "Only print events after this stream sequence")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 0, "Maximum number of events to print (0 for all)")
}

// eventLine is one printed record: the stream sequence and the event exactly
// as it was sent to the client.
type eventLine struct {
	Sequence uint64          `json:"sequence"`
	Event    json.RawMessage `json:"event"`
}

func writeEventLines(w io.Writer, events []model.RecordedEvent) error {
	enc := json.NewEncoder(w)
	for _, e := range events {
		data, err := agui.Marshal(e.Event)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", e.Sequence, err)
		}
		if err := enc.Encode(eventLine{Sequence: e.Sequence, Event: data}); err != nil {
			return err
		}
	}
	return nil
}
