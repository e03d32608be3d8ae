package commands

import (
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/second-state/echokit-box/adapters/board"
	"github.com/second-state/echokit-box/adapters/config"
	"github.com/second-state/echokit-box/domain/repositories"
)

// openStore opens the persisted identity store under the data directory.
func openStore() (repositories.ConfigStore, error) {
	dir := filepath.Join(flagDataDir, "config")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return config.NewBadger(config.BadgerOptions{Dir: dir})
}

// loadProfile resolves the board profile from the flag or falls back to the
// built-in default.
func loadProfile() (board.Profile, error) {
	if flagBoard == "" {
		return board.Default(), nil
	}
	return board.Load(flagBoard)
}

// deviceID derives the stable device identifier from the first hardware
// interface address, as 12 lowercase hex digits.
func deviceID() string {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) < 6 {
				continue
			}
			return hex.EncodeToString(iface.HardwareAddr[:6])
		}
	}
	// No usable interface; fall back to something stable per process.
	return "000000" + strconv.FormatInt(int64(os.Getpid())&0xffffff, 16)
}

// macAddress returns the same interface address with colon separators, or
// an empty string when unavailable.
func macAddress() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) < 6 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}
