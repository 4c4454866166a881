// syncctl is the operator CLI. It talks to the service's HTTP API; it never
// touches the database directly.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github-org-mirror/internal/model"
)

var (
	serverURL  string
	outputJSON bool
	userID     int64
	limit      int
)

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "Operator tool for the repository mirror service",
	Long: `syncctl inspects and drives the repository mirror service.

It lists sync jobs and dead letters, connects repositories and forces
full resyncs through the service's HTTP API.`,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent sync jobs",
	RunE:  runJobs,
}

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List recent dead letters",
	RunE:  runDeadLetters,
}

var connectCmd = &cobra.Command{
	Use:   "connect [owner] [name] [installation-id]",
	Short: "Connect a repository and start its bootstrap",
	Args:  cobra.ExactArgs(3),
	RunE:  runConnect,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill [owner] [name]",
	Short: "Re-import the mutable slices of a connected repository",
	Long:  `Creates a backfill job on the sync ledger. A no-op while another job is active. Requires push permission; set --user-id.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runBackfill,
}

var resyncCmd = &cobra.Command{
	Use:   "resync [owner] [name]",
	Short: "Force a full resync of a connected repository",
	Long:  `Supersedes any active job and starts a fresh bootstrap. Requires admin permission; set --user-id to an admin.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runResync,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "service base URL")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().Int64Var(&userID, "user-id", 0, "acting user id, sent as X-User-ID")
	rootCmd.PersistentFlags().IntVar(&limit, "limit", 50, "maximum rows to list")

	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(deadLettersCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(resyncCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func doRequest(method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID > 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(data))
	}
	return data, nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	data, err := doRequest(http.MethodGet, fmt.Sprintf("/v1/admin/jobs?limit=%d", limit), nil)
	if err != nil {
		return err
	}
	if outputJSON {
		fmt.Println(string(data))
		return nil
	}

	var jobs []model.SyncJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("failed to decode jobs: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Lock Key", "Type", "State", "Step", "Attempts", "Items", "Updated"})
	for _, j := range jobs {
		table.Append([]string{
			j.ID,
			j.LockKey,
			string(j.Type),
			string(j.State),
			j.CurrentStep,
			fmt.Sprintf("%d", j.AttemptCount),
			fmt.Sprintf("%d", j.ItemsFetched),
			j.UpdatedAt.Format(time.RFC3339),
		})
	}
	table.Render()
	return nil
}

func runDeadLetters(cmd *cobra.Command, args []string) error {
	data, err := doRequest(http.MethodGet, fmt.Sprintf("/v1/admin/dead-letters?limit=%d", limit), nil)
	if err != nil {
		return err
	}
	if outputJSON {
		fmt.Println(string(data))
		return nil
	}

	var letters []model.DeadLetter
	if err := json.Unmarshal(data, &letters); err != nil {
		return fmt.Errorf("failed to decode dead letters: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Source", "Delivery", "Reason", "Created"})
	for _, dl := range letters {
		reason := dl.Reason
		if len(reason) > 80 {
			reason = reason[:77] + "..."
		}
		table.Append([]string{
			fmt.Sprintf("%d", dl.ID),
			dl.Source,
			dl.DeliveryID,
			reason,
			dl.CreatedAt.Format(time.RFC3339),
		})
	}
	table.Render()
	return nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	installationID, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid installation id %q", args[2])
	}

	body := map[string]any{
		"owner":           args[0],
		"name":            args[1],
		"installation_id": installationID,
	}
	if userID > 0 {
		body["connecting_user_id"] = userID
	}

	data, err := doRequest(http.MethodPost, "/v1/repos/connect", body)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	data, err := doRequest(http.MethodPost, fmt.Sprintf("/v1/repos/%s/%s/backfill", args[0], args[1]), nil)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runResync(cmd *cobra.Command, args []string) error {
	data, err := doRequest(http.MethodPost, fmt.Sprintf("/v1/repos/%s/%s/resync", args[0], args[1]), nil)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
