package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kaiwenho/healthsync/internal/models"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List changes waiting for the next sync round",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ledgers := a.store.PendingChanges()
		total := 0
		for _, table := range models.Tables() {
			changes := ledgers.ForTable(table)
			if len(changes) == 0 {
				continue
			}
			fmt.Printf("%s:\n", table)
			for _, c := range changes {
				fmt.Printf("  %s  (changed %s)\n", c.RecordKey(), c.Timestamp)
			}
			total += len(changes)
		}
		if total == 0 {
			fmt.Println("Nothing pending.")
		}
		return nil
	},
}

var markSyncedCmd = &cobra.Command{
	Use:   "mark-synced",
	Short: "Mark every pending record as synced, server side and locally",
	Long: `Ask the server to flip this device's records to synced, then mirror
that locally: every ledgered record is marked synced and its ledger entry is
cleared. Use this after restoring a device whose records the server already
holds; it skips conflict detection entirely.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.client.MarkSynced(cmd.Context(), a.deviceID()); err != nil {
			return err
		}

		ledgers := a.store.PendingChanges()
		for _, table := range models.Tables() {
			changes := ledgers.ForTable(table)
			if len(changes) == 0 {
				continue
			}
			ids := make([]string, 0, len(changes))
			for _, c := range changes {
				ids = append(ids, c.RecordKey())
			}
			if err := a.store.MarkSynced(table, ids); err != nil {
				return err
			}
		}

		fmt.Println("All records marked synced")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(markSyncedCmd)
}
