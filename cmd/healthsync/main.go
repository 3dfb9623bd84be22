// Package main is the healthsync command line client.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kaiwenho/healthsync/internal/api"
	"github.com/kaiwenho/healthsync/internal/config"
	"github.com/kaiwenho/healthsync/internal/device"
	"github.com/kaiwenho/healthsync/internal/kv"
	"github.com/kaiwenho/healthsync/internal/logging"
	"github.com/kaiwenho/healthsync/internal/store"
	syncpkg "github.com/kaiwenho/healthsync/internal/sync"
)

// Version is set at build time.
var Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "healthsync",
	Short:   "Offline-first sync client for the health assistant",
	Version: Version,
	Long: `healthsync keeps a device-local copy of chat messages, health advice
and diet records, and synchronizes it with the health-assistant service.

Local changes accumulate in a pending-change ledger while offline and are
pushed on the next sync round. Conflicts reported by the server are resolved
per record type: last write wins for messages and diet records, a field-level
merge for health advice.`,
	SilenceUsage: true,
}

// app bundles everything a command needs, built once per invocation.
type app struct {
	cfg      *config.Config
	kv       *kv.Store
	store    *store.Store
	identity *device.Identity
	client   *api.Client
	engine   *syncpkg.Engine
}

// newApp loads config and constructs the dependency graph. The sync engine
// receives all collaborators explicitly; nothing lives in package-level
// state.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logging.Init(os.Stderr, logging.LogLevel(strings.ToUpper(cfg.LogLevel)))

	kvStore, err := kv.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(kvStore)
	if err != nil {
		kvStore.Close()
		return nil, err
	}

	identity := device.NewIdentity(kvStore)
	deviceID, err := identity.Ensure()
	if err != nil {
		kvStore.Close()
		return nil, err
	}

	client := api.New(api.Config{
		BaseURL: cfg.ServerURL,
		Timeout: cfg.RequestTimeout,
		Token: func(ctx context.Context) (string, error) {
			return cfg.Token, nil
		},
	})

	engine := syncpkg.NewEngine(st, client, deviceID, syncpkg.PushSource(cfg.PushSource))

	return &app{
		cfg:      cfg,
		kv:       kvStore,
		store:    st,
		identity: identity,
		client:   client,
		engine:   engine,
	}, nil
}

func (a *app) close() {
	a.kv.Close()
}

// deviceID returns the ensured identity; newApp already created it.
func (a *app) deviceID() string {
	id, _ := a.identity.Ensure()
	return id
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
