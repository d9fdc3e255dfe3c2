package main

import (
	"fmt"
	"os"
	"time"

	"github.com/nodegate/nodegate-go/pkg/httpclient"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	serverURL  string
	operatorID string
	adminToken string
	token      string
	timeout    time.Duration

	// Global client instance
	client *httpclient.Client
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nodegate-cli",
		Short: "Gateway HTTP API command line interface",
		Long: `nodegate-cli is a command line interface for the node gateway HTTP API.
It provides commands for authentication, listing connected nodes, invoking
commands on nodes, and pushing events to them.`,
		PersistentPreRunE: initializeClient,
	}

	// Add global flags
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Gateway server URL")
	rootCmd.PersistentFlags().StringVar(&operatorID, "operator-id", "", "Operator ID for authentication")
	rootCmd.PersistentFlags().StringVar(&adminToken, "admin-token", "", "Admin token for admin-scoped sessions")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "JWT token (if already authenticated)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "Request timeout")

	// Add subcommands
	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newNodesCommand())
	rootCmd.AddCommand(newInvokeCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newHealthCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initializeClient sets up the HTTP client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	// Skip client initialization for help commands
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	if operatorID == "" {
		return fmt.Errorf("operator-id is required")
	}

	config := httpclient.Config{
		ServerURL:  serverURL,
		OperatorID: operatorID,
		AdminToken: adminToken,
		Timeout:    timeout,
	}

	var err error
	client, err = httpclient.NewClient(config)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if token != "" {
		client.SetToken(token)
	}

	return nil
}

// requireAuthentication checks if the client is authenticated
func requireAuthentication() error {
	if client == nil {
		return fmt.Errorf("client not initialized")
	}

	if !client.IsAuthenticated() {
		return fmt.Errorf("not authenticated - run 'nodegate-cli auth' first or provide --token")
	}
	return nil
}
