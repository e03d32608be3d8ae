// Package main is the echokit firmware core: wake-word gated voice capture
// streamed to a configured backend, with BLE and captive-portal
// provisioning.
//
// Usage:
//
//	echokit [flags] <command>
//
// Commands:
//
//	run        - Run the device loop (capture, wake, stream, playback)
//	provision  - Run only the provisioning surfaces until committed
//	activate   - Bind the device to a user account with a one-time code
//	config     - Inspect or edit the persisted identity
//	version    - Print the firmware version
package main

import (
	"fmt"
	"os"

	"github.com/second-state/echokit-box/cmd/echokit/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
