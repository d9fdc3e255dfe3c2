package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newNodesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes [node-id]",
		Short: "List known nodes or show one node",
		Long: `List every node the gateway knows about, including nodes connected
to other pods. With a node ID argument, show that node's details.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runNodes,
	}

	return cmd
}

func runNodes(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if len(args) == 1 {
		return showNode(ctx, args[0])
	}

	resp, err := client.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}

	if resp.Count == 0 {
		fmt.Println("No nodes connected.")
		return nil
	}

	fmt.Printf("Found %d node(s):\n\n", resp.Count)
	for _, node := range resp.Nodes {
		location := "local"
		if !node.Local {
			location = "pod " + node.PodID
		}
		fmt.Printf("  %s (%s)\n", node.NodeID, location)
		if node.DisplayName != "" {
			fmt.Printf("    Name: %s\n", node.DisplayName)
		}
		if node.Platform != "" {
			fmt.Printf("    Platform: %s %s\n", node.Platform, node.Version)
		}
		if len(node.Commands) > 0 {
			fmt.Printf("    Commands: %s\n", strings.Join(node.Commands, ", "))
		}
		fmt.Println()
	}

	return nil
}

func showNode(ctx context.Context, nodeID string) error {
	node, err := client.GetNode(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("failed to get node: %w", err)
	}

	fmt.Printf("Node: %s\n", node.NodeID)
	if node.DisplayName != "" {
		fmt.Printf("  Name: %s\n", node.DisplayName)
	}
	if node.Platform != "" {
		fmt.Printf("  Platform: %s %s\n", node.Platform, node.Version)
	}
	if node.Local {
		fmt.Printf("  Location: local\n")
	} else {
		fmt.Printf("  Location: pod %s\n", node.PodID)
	}
	if node.ConnectedAtMs > 0 {
		connectedAt := time.UnixMilli(node.ConnectedAtMs)
		fmt.Printf("  Connected: %s\n", connectedAt.Format(time.RFC3339))
	}
	if node.RemoteIP != "" {
		fmt.Printf("  Remote IP: %s\n", node.RemoteIP)
	}
	if len(node.Capabilities) > 0 {
		fmt.Printf("  Capabilities: %s\n", strings.Join(node.Capabilities, ", "))
	}
	if len(node.Commands) > 0 {
		fmt.Printf("  Commands: %s\n", strings.Join(node.Commands, ", "))
	}

	return nil
}
