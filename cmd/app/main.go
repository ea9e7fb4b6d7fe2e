package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pulse/internal/cli"
	"pulse/internal/client"
	"pulse/internal/onboarding"
	"pulse/internal/server"
	"pulse/internal/tui"
)

var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Live resource server with reactive clients",
	Run: func(cmd *cobra.Command, args []string) {
		if onboarding.IsFirstRun() {
			fmt.Println("Welcome to Pulse! Let's get you set up.")
			if err := onboarding.RunWizard(); err != nil {
				log.Fatalf("Setup failed: %v", err)
			}
		}

		if !server.IsRunning() {
			fmt.Println("Server is not running. Starting it...")
			if err := onboarding.StartServices(); err != nil {
				fmt.Printf("Failed to start server: %v\n", err)
				fmt.Println("Try running: pulse serve --foreground")
				os.Exit(1)
			}
		}

		rpc, err := cli.Connect()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rpc.Close()

		if err := tui.Start(client.NewLive(rpc)); err != nil {
			log.Fatal(err)
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server (runs in background by default)",
	Run: func(cmd *cobra.Command, args []string) {
		foreground, _ := cmd.Flags().GetBool("foreground")

		if server.IsRunning() {
			fmt.Println("Server is already running")
			os.Exit(1)
		}

		if err := server.CleanupStaleFiles(); err != nil {
			log.Printf("Warning: cleanup failed: %v", err)
		}

		if !foreground {
			executable, err := os.Executable()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to get executable path: %v\n", err)
				os.Exit(1)
			}

			bg := exec.Command(executable, "serve", "--foreground")
			if err := bg.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
				os.Exit(1)
			}

			fmt.Println("Starting server in background...")
			for i := 0; i < 10; i++ {
				time.Sleep(500 * time.Millisecond)
				if server.IsRunning() {
					fmt.Println("Server started successfully")
					return
				}
			}
			fmt.Println("Warning: server may not have started properly")
			return
		}

		srv, err := server.NewFromConfig()
		if err != nil {
			if errors.Is(err, server.ErrAlreadyRunning) {
				fmt.Println("Server is already running")
				os.Exit(1)
			}
			log.Fatalf("Failed to create server: %v", err)
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigChan
			log.Printf("Received signal %v, shutting down", sig)
			srv.Stop()
			os.Exit(0)
		}()

		if err := srv.Start(); err != nil {
			log.Fatal(err)
		}
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the server",
	Run: func(cmd *cobra.Command, args []string) {
		if !server.IsRunning() {
			fmt.Println("Server is not running")
			os.Exit(1)
		}

		rpc, err := cli.Connect()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rpc.Close()

		if err := rpc.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Server stopped")
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Run: func(cmd *cobra.Command, args []string) {
		if !server.IsRunning() {
			fmt.Println("Server is not running")
			os.Exit(1)
		}
		if err := cli.ShowStatus(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Run the setup wizard",
	Run: func(cmd *cobra.Command, args []string) {
		if err := onboarding.RunWizard(); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask the server to reload its configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		rpc, err := cli.Connect()
		if err != nil {
			return err
		}
		defer rpc.Close()
		if err := rpc.ReloadConfig(); err != nil {
			return err
		}
		fmt.Println("Configuration reloaded")
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.ListResources()
	},
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.GetResource(args[0])
	},
}

var createCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, _ := cmd.Flags().GetString("body")
		return cli.CreateResource(args[0], body)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Update a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		body, _ := cmd.Flags().GetString("body")
		return cli.UpdateResource(args[0], name, body)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.DeleteResource(args[0])
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream change events as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		showPings, _ := cmd.Flags().GetBool("pings")
		return cli.WatchEvents(showPings)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the TCP auth token in the system keyring",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [value]",
	Short: "Store a token (prompts if omitted, '-' generates one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := ""
		if len(args) > 0 {
			value = args[0]
		}
		return cli.SetToken(value)
	},
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.ShowToken()
	},
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.ClearToken()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SilenceUsage = true

	serveCmd.Flags().Bool("foreground", false, "Run the server in the foreground (blocks terminal)")
	createCmd.Flags().String("body", "", "Resource body")
	updateCmd.Flags().String("name", "", "New resource name")
	updateCmd.Flags().String("body", "", "New resource body")
	updateCmd.MarkFlagRequired("name")
	watchCmd.Flags().Bool("pings", false, "Also print keep-alive frames")

	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenShowCmd)
	tokenCmd.AddCommand(tokenClearCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
