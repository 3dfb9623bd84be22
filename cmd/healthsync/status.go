package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local sync state and pending-change counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		counts := a.store.PendingCounts()
		lastSync := a.store.LastSync()

		fmt.Printf("Device:     %s\n", a.deviceID())
		if lastSync.IsZero() {
			fmt.Println("Last sync:  never")
		} else {
			fmt.Printf("Last sync:  %s\n", lastSync.Format(time.RFC3339))
		}
		fmt.Printf("Pending:    %d messages, %d advice, %d diet records\n",
			counts.Messages, counts.Advice, counts.DietRecords)
		if misses := a.store.ReplaceMisses(); misses > 0 {
			fmt.Printf("Diagnostics: %d conflict replacements targeted missing records\n", misses)
		}

		remote, _ := cmd.Flags().GetBool("remote")
		if !remote {
			return nil
		}

		info, err := a.client.Status(cmd.Context(), a.deviceID(), true)
		if err != nil {
			return err
		}
		fmt.Printf("Server:     last sync %s, unsynced %d messages, %d advice, %d diet records\n",
			info.LastSyncTime, info.UnsyncedCounts.Messages,
			info.UnsyncedCounts.Advice, info.UnsyncedCounts.DietRecords)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("remote", false, "also query the server's sync status")
	rootCmd.AddCommand(statusCmd)
}
