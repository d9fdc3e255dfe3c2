package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nodegate/nodegate-go/pkg/httpclient"
	"github.com/spf13/cobra"
)

func newInvokeCommand() *cobra.Command {
	var (
		command        string
		params         string
		timeoutMs      int64
		idempotencyKey string
	)

	cmd := &cobra.Command{
		Use:   "invoke <node-id>",
		Short: "Invoke a command on a node",
		Long: `Invoke a command on a node and wait for its result. The node may be
connected to this pod or to any other pod sharing the same store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(args[0], command, params, timeoutMs, idempotencyKey)
		},
	}

	cmd.Flags().StringVar(&command, "command", "", "Command name to invoke (required)")
	cmd.Flags().StringVar(&params, "params", "", "Command parameters as JSON")
	cmd.Flags().Int64Var(&timeoutMs, "timeout-ms", 0, "Invoke timeout in milliseconds (0 uses the gateway default)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key passed through to the node")
	cmd.MarkFlagRequired("command")

	return cmd
}

func runInvoke(nodeID, command, params string, timeoutMs int64, idempotencyKey string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	var paramsValue any
	if params != "" {
		if err := json.Unmarshal([]byte(params), &paramsValue); err != nil {
			return fmt.Errorf("invalid JSON params: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fmt.Printf("Invoking '%s' on node %s...\n", command, nodeID)

	resp, err := client.Invoke(ctx, nodeID, httpclient.InvokeRequest{
		Command:        command,
		Params:         paramsValue,
		TimeoutMs:      timeoutMs,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return fmt.Errorf("invoke failed: %w", err)
	}

	if !resp.OK {
		if resp.Error != nil {
			return fmt.Errorf("command failed: %s (%s)", resp.Error.Message, resp.Error.Code)
		}
		return fmt.Errorf("command failed")
	}

	fmt.Printf("✅ Command succeeded!\n")
	if len(resp.Payload) > 0 {
		pretty, err := json.MarshalIndent(json.RawMessage(resp.Payload), "", "  ")
		if err != nil {
			fmt.Printf("Result: %s\n", string(resp.Payload))
		} else {
			fmt.Printf("Result:\n%s\n", string(pretty))
		}
	}

	return nil
}
