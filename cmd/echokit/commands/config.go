package commands

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/second-state/echokit-box/domain/entities"
	"github.com/second-state/echokit-box/domain/repositories"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or edit the persisted identity",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persisted identity attributes",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, key := range []string{entities.KeyNetworkName, entities.KeyNetworkSecret, entities.KeyBackendAddress} {
			value, err := store.Get(cmd.Context(), key)
			switch {
			case errors.Is(err, repositories.ErrKeyNotFound):
				fmt.Fprintf(w, "%s\t<unset>\n", key)
			case err != nil:
				return err
			case key == entities.KeyNetworkSecret:
				fmt.Fprintf(w, "%s\t<set, %d bytes>\n", key, len(value))
			default:
				fmt.Fprintf(w, "%s\t%s\n", key, value)
			}
		}
		return w.Flush()
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <attribute> <value>",
	Short: "Set one identity attribute directly",
	Long: `Set one of network_name, network_secret or backend_address in the
persisted store, bypassing the provisioning surfaces. Values are validated
the same way: UTF-8 text of at most 64 bytes.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], []byte(args[1])
		if !knownAttribute(key) {
			return fmt.Errorf("unknown attribute %q", key)
		}
		if err := entities.ValidateAttribute(key, value); err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Set(cmd.Context(), key, value)
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <attribute>",
	Short: "Remove one identity attribute",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if !knownAttribute(key) {
			return fmt.Errorf("unknown attribute %q", key)
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Delete(cmd.Context(), key)
	},
}

func knownAttribute(key string) bool {
	switch key {
	case entities.KeyNetworkName, entities.KeyNetworkSecret, entities.KeyBackendAddress:
		return true
	}
	return false
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

