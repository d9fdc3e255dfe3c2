package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newEventsCommand() *cobra.Command {
	var (
		event   string
		payload string
	)

	cmd := &cobra.Command{
		Use:   "send-event <node-id>",
		Short: "Push an event to a node (admin only)",
		Long: `Push an event frame to a node connected to this pod. Requires an
admin-scoped session; authenticate with --admin-token.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSendEvent(args[0], event, payload)
		},
	}

	cmd.Flags().StringVar(&event, "event", "", "Event name (required)")
	cmd.Flags().StringVar(&payload, "payload", "", "Event payload as JSON")
	cmd.MarkFlagRequired("event")

	return cmd
}

func runSendEvent(nodeID, event, payload string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	var payloadJSON json.RawMessage
	if payload != "" {
		if !json.Valid([]byte(payload)) {
			return fmt.Errorf("invalid JSON payload")
		}
		payloadJSON = json.RawMessage(payload)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.SendEvent(ctx, nodeID, event, payloadJSON); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	fmt.Printf("✅ Event '%s' delivered to node %s\n", event, nodeID)
	return nil
}
