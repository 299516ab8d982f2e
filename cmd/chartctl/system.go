package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/verdanthealth/chartd/internal/catalog"
	"github.com/verdanthealth/chartd/internal/notifications"
	"github.com/verdanthealth/chartd/internal/records"
)

var (
	notifUnreadOnly bool
	notifOutputJSON bool

	catCategory   string
	catOutputJSON bool

	syncOutputJSON bool
)

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.Flags().BoolVar(&notifUnreadOnly, "unread", false, "Only show unread notifications")
	notificationsCmd.Flags().BoolVar(&notifOutputJSON, "json", false, "Output results as JSON")

	rootCmd.AddCommand(catalogCmd)
	catalogCmd.Flags().StringVar(&catCategory, "category", "", "Filter by category")
	catalogCmd.Flags().BoolVar(&catOutputJSON, "json", false, "Output results as JSON")

	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncPendingCmd)
	syncCmd.AddCommand(syncReplayCmd)
	syncCmd.PersistentFlags().BoolVar(&syncOutputJSON, "json", false, "Output results as JSON")
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Show the notification feed",
	Long: `Show the daemon's notification feed: connectivity changes, local
fallbacks, journal syncs, and finalized encounters.

Examples:
  # All notifications
  chartctl notifications

  # Unread only
  chartctl notifications --unread`,
	RunE: runNotifications,
}

var catalogCmd = &cobra.Command{
	Use:   "catalog [query]",
	Short: "Browse the diagnostic test catalog",
	Long: `Browse the diagnostic test catalog.

Examples:
  # Everything
  chartctl catalog

  # One category
  chartctl catalog --category Hematology

  # Free-text search
  chartctl catalog thyroid`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCatalog,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Inspect and replay the offline journal",
	Long: `Inspect and replay the journal of writes that have not reached the
backend yet.

Examples:
  # What is waiting
  chartctl sync pending

  # Push it now
  chartctl sync replay`,
}

var syncPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List journaled writes waiting for the backend",
	RunE:  runSyncPending,
}

var syncReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay the journal against the backend now",
	RunE:  runSyncReplay,
}

// NotificationListResponse matches internal/httpapi/system.go NotificationListResponse
type NotificationListResponse struct {
	Notifications []notifications.Notification `json:"notifications"`
}

// CatalogResponse matches internal/httpapi/system.go CatalogResponse
type CatalogResponse struct {
	Tests      []catalog.TestDefinition `json:"tests"`
	Categories []string                 `json:"categories"`
}

// SyncPendingResponse matches internal/httpapi/system.go SyncPendingResponse
type SyncPendingResponse struct {
	Entries []records.JournalEntry `json:"entries"`
	Count   int                    `json:"count"`
}

// SyncReplayResponse matches internal/httpapi/system.go SyncReplayResponse
type SyncReplayResponse struct {
	Synced    int `json:"synced"`
	Remaining int `json:"remaining"`
}

// runNotifications handles the notifications command
func runNotifications(cmd *cobra.Command, args []string) error {
	path := "/v1/notifications"
	if notifUnreadOnly {
		path += "?unread=true"
	}

	var resp NotificationListResponse
	if err := apiGet(path, &resp); err != nil {
		return err
	}

	if notifOutputJSON {
		return outputJSON(resp)
	}

	if len(resp.Notifications) == 0 {
		fmt.Println("No notifications")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tMESSAGE\tREAD")
	for _, n := range resp.Notifications {
		readStr := ""
		if n.Read {
			readStr = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			formatTime(n.CreatedAt),
			n.Kind,
			truncate(n.Message, 60),
			readStr,
		)
	}
	w.Flush()

	return nil
}

// runCatalog handles the catalog command
func runCatalog(cmd *cobra.Command, args []string) error {
	query := url.Values{}
	if catCategory != "" {
		query.Set("category", catCategory)
	}
	if len(args) == 1 {
		query.Set("q", args[0])
	}
	path := "/v1/catalog/tests"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp CatalogResponse
	if err := apiGet(path, &resp); err != nil {
		return err
	}

	if catOutputJSON {
		return outputJSON(resp)
	}

	if len(resp.Tests) == 0 {
		fmt.Println("No tests found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tNAME\tCATEGORY\tSPECIMEN")
	for _, t := range resp.Tests {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.Code,
			truncate(t.Name, 40),
			t.Category,
			t.Specimen,
		)
	}
	w.Flush()

	return nil
}

// runSyncPending handles the sync pending command
func runSyncPending(cmd *cobra.Command, args []string) error {
	var resp SyncPendingResponse
	if err := apiGet("/v1/sync/pending", &resp); err != nil {
		return err
	}

	if syncOutputJSON {
		return outputJSON(resp)
	}

	if resp.Count == 0 {
		fmt.Println("Journal is empty; everything is on the backend")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOP\tSTREAM\tRECORD\tAT\tATTEMPTS\tLAST ERROR")
	for _, e := range resp.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			truncate(e.ID, 12),
			e.Op,
			e.Stream,
			truncate(e.RecordID, 16),
			formatTime(e.At),
			e.Attempts,
			truncate(e.LastError, 40),
		)
	}
	w.Flush()

	fmt.Printf("\n%d entr%s pending\n", resp.Count, plural(resp.Count, "y", "ies"))
	return nil
}

// runSyncReplay handles the sync replay command
func runSyncReplay(cmd *cobra.Command, args []string) error {
	var resp SyncReplayResponse
	if err := apiDo(http.MethodPost, "/v1/sync/replay", nil, &resp); err != nil {
		return err
	}

	if syncOutputJSON {
		return outputJSON(resp)
	}

	fmt.Printf("Synced %d entr%s, %d remaining\n",
		resp.Synced, plural(resp.Synced, "y", "ies"), resp.Remaining)
	return nil
}

// plural picks the singular or plural suffix for n.
func plural(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
