package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mlodato/kindlecards/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start a real-time WebSocket view of the pipeline",
	Long: `Start a WebSocket server that broadcasts pipeline counts whenever they
change, so a long batch generation can be watched from a browser.

Messages:
- counts: total / pending / generated / failed / synced / in-batch
- books: per-book pending breakdown

Example usage:
  kc dashboard                   # default port 8484
  kc dashboard --port 9000

Connect with a WebSocket client:
  ws://localhost:8484/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		server := dashboard.NewServer(st, &dashboard.Config{
			Port:   port,
			Logger: newLogger("[dashboard] "),
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}

		fmt.Printf("Dashboard listening on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down...")
		return server.Stop()
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8484, "Port to listen on")
	rootCmd.AddCommand(dashboardCmd)
}
