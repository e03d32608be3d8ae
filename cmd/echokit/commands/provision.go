package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/second-state/echokit-box/domain/entities"
	"github.com/second-state/echokit-box/internal/provisioning"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Run only the provisioning surfaces until committed",
	Long: `Expose the BLE GATT service and the captive portal, wait for all
three identity attributes to be staged, commit them and exit. Useful for
first-time setup without starting the audio pipeline.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProvision(cmd.Context())
	},
}

func init() {
	provisionCmd.Flags().StringVar(&flagPortalAddr, "portal-addr", ":8080", "captive portal listen address")
	provisionCmd.Flags().StringVar(&flagBLEName, "ble-name", "EchoKit", "BLE advertising name")
	provisionCmd.Flags().BoolVar(&flagNoBLE, "no-ble", false, "skip the BLE provisioning surface")
}

func runProvision(parent context.Context) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prov := provisioning.NewService(store, logger)
	stateFn := func() entities.DeviceState { return entities.StateProvisioning }
	portal := provisioning.NewPortal(prov, stateFn, nil, Version, logger)
	go func() {
		if err := portal.Start(ctx, flagPortalAddr); err != nil {
			logger.Error("captive portal failed", zap.Error(err))
		}
	}()

	if !flagNoBLE {
		ble := provisioning.NewBLEServer(prov, flagBLEName, logger)
		if err := ble.Start(ctx); err != nil {
			logger.Warn("ble provisioning unavailable", zap.Error(err))
		} else {
			defer ble.Stop()
		}
	}

	fmt.Println("Waiting for provisioning attributes...")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-prov.Updated():
		}
		if !prov.Staged(ctx) {
			continue
		}
		id, err := prov.Commit(ctx, entities.StateProvisioning)
		if err != nil {
			logger.Warn("commit failed", zap.Error(err))
			continue
		}
		fmt.Printf("Provisioned: network=%s backend=%s\n", id.NetworkName, id.BackendAddress)
		return nil
	}
}
