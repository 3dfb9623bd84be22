package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/kaiwenho/healthsync/internal/models"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage this installation's device identity",
}

var deviceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the device identifier",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		fmt.Println(a.deviceID())
		return nil
	},
}

var deviceRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this device with the server",
	Long: `Ask the server for a device identity and persist it locally, replacing
the locally generated placeholder. Safe to re-run; the stored identifier is
simply overwritten with whatever the server issues.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		id, err := a.client.RegisterDevice(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.identity.Adopt(id); err != nil {
			return err
		}

		fmt.Printf("Registered device %s\n", id)
		return nil
	},
}

var deviceUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Push device metadata to the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		name, _ := cmd.Flags().GetString("name")
		info := models.DeviceInfo{
			DeviceID:   a.deviceID(),
			DeviceName: name,
			Platform:   runtime.GOOS,
			AppVersion: Version,
		}
		if err := a.client.UpdateDevice(cmd.Context(), a.deviceID(), info); err != nil {
			return err
		}

		fmt.Println("Device info updated")
		return nil
	},
}

func init() {
	deviceUpdateCmd.Flags().String("name", "", "human-readable device name")
	deviceCmd.AddCommand(deviceShowCmd)
	deviceCmd.AddCommand(deviceRegisterCmd)
	deviceCmd.AddCommand(deviceUpdateCmd)
	rootCmd.AddCommand(deviceCmd)
}
