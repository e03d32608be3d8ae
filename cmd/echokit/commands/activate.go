package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/second-state/echokit-box/internal/activation"
	"github.com/second-state/echokit-box/internal/provisioning"
)

var flagActivatePoll time.Duration

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Bind the device to a user account with a one-time code",
	Long: `Request a six-digit activation code from the provisioned backend,
print it for the user to enter, and poll until the backend confirms the
binding.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runActivate(cmd.Context())
	},
}

func init() {
	activateCmd.Flags().DurationVar(&flagActivatePoll, "poll-interval", 5*time.Second, "verification poll interval")
}

func runActivate(parent context.Context) error {
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

	id, err := provisioning.LoadIdentity(ctx, store)
	if err != nil {
		return fmt.Errorf("activation needs a provisioned backend address: %w", err)
	}

	session := activation.NewSession(deviceID(), id.BackendAddress, Version, logger)
	session.PollInterval = flagActivatePoll

	bound, err := session.Run(ctx, func(code string) {
		fmt.Printf("Activation code: %s\n", code)
		fmt.Println("Enter this code in the companion app to bind the device.")
	})
	if err != nil {
		return err
	}
	fmt.Printf("Bound to %s as %q\n", bound.UserID, bound.DeviceName)
	return nil
}
