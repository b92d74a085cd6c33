package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/agui-gateway/internal/model"
)

var messagesAfter uint64

var messagesCmd = &cobra.Command{
	Use:   "messages <thread-id>",
	Short: "Print a thread's recorded messages as JSON lines",
	Args:  cobra.ExactArgs(1),
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

		after := messagesAfter
		for {
			messages, lastSeq, hasMore, err := streams.GetMessages(ctx, tenantID, args[0], after, 100)
			if err != nil {
				return fmt.Errorf("read messages: %w", err)
			}
			if err := writeMessageLines(os.Stdout, messages); err != nil {
				return err
			}
			if !hasMore || lastSeq <= after {
				return nil
			}
			after = lastSeq
		}
	},
}

func init() {
	rootCmd.AddCommand(messagesCmd)
	messagesCmd.Flags().Uint64Var(&messagesAfter, "after", 0, "Only print messages after this stream sequence")
}

func writeMessageLines(w io.Writer, messages []model.Message) error {
	enc := json.NewEncoder(w)
	for i := range messages {
		if err := enc.Encode(&messages[i]); err != nil {
			return err
		}
	}
	return nil
}
