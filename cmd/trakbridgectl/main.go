// Command trakbridgectl is the TrakBridge operator CLI: it validates
// configuration offline and drives the running daemon's management API
// (spec.md §6 "operator tooling"), following the teacher's cobra-based
// command tree (cobra/interface.go's Command/AddCommand/Execute shape).
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trakbridge/trakbridge/internal/appconfig"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var apiAddr string

	root := &cobra.Command{
		Use:   "trakbridgectl",
		Short: "TrakBridge operator CLI",
	}
	root.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:8080", "management API base URL")

	root.AddCommand(newConfigCommand())
	root.AddCommand(newStreamCommand(&apiAddr))

	return root
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect and validate configuration"}
	cmd.AddCommand(newConfigValidateCommand())
	return cmd
}

// newConfigValidateCommand implements "trakbridgectl config validate": loads
// the same flag/env/file precedence the daemon uses and reports whether it
// resolves to a usable Config, without opening the database or starting any
// workers.
func newConfigValidateCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the resolved daemon configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(v)
			if err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			fmt.Printf("config OK: driver=%s data_dir=%s api=%s metrics=%s\n",
				cfg.DB.Driver, cfg.DataDir, cfg.APIListenAddr, cfg.MetricsListenAddr)
			return nil
		},
	}
	if err := appconfig.BindFlags(cmd, v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cmd
}

func newStreamCommand(apiAddr *string) *cobra.Command {
	cmd := &cobra.Command{Use: "stream", Short: "Control a running stream"}
	cmd.AddCommand(newStreamActionCommand(apiAddr, "start"))
	cmd.AddCommand(newStreamActionCommand(apiAddr, "stop"))
	cmd.AddCommand(newStreamActionCommand(apiAddr, "restart"))
	cmd.AddCommand(newStreamHealthCommand(apiAddr))
	return cmd
}

func newStreamActionCommand(apiAddr *string, action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <stream-id>",
		Short: fmt.Sprintf("%s a stream", action),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/streams/%s/%s", *apiAddr, args[0], action)
			return postAndPrint(url)
		},
	}
}

func newStreamHealthCommand(apiAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health <stream-id>",
		Short: "Show a stream's health",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/streams/%s/health", *apiAddr, args[0])
			return getAndPrint(url)
		},
	}
}

func postAndPrint(url string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func getAndPrint(url string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("api error (%d): %s", resp.StatusCode, body)
	}
	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}
