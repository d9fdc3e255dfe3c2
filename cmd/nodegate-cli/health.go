package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Long:  "Check the health status of the gateway",
		RunE:  runHealth,
	}

	return cmd
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fmt.Printf("Checking health of %s...\n", serverURL)

	health, err := client.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Healthy {
		fmt.Printf("✅ Gateway is healthy!\n")
	} else {
		fmt.Printf("❌ Gateway is not healthy!\n")
	}
	if health.PodID != "" {
		fmt.Printf("Pod: %s\n", health.PodID)
	}
	fmt.Printf("Connected Nodes: %d\n", health.ConnectedNodes)
	fmt.Printf("Pending Invokes: %d\n", health.PendingInvokes)
	fmt.Printf("Cross-Pod Sync: %t\n", health.SyncAttached)
	if health.Message != "" {
		fmt.Printf("Message: %s\n", health.Message)
	}

	return nil
}
