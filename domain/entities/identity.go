package entities

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxAttributeLen is the maximum encoded length, in bytes, of a single
// provisioning attribute value.
const MaxAttributeLen = 64

// Persisted configuration keys. Absence of any of them means the device has
// never been provisioned and must boot into the provisioning state.
const (
	KeyNetworkName    = "network_name"
	KeyNetworkSecret  = "network_secret"
	KeyBackendAddress = "backend_address"
)

// NetworkIdentity is the provisioned identity of the device: which network
// to join and which backend to stream to. It is absent until the first
// successful provisioning commit and afterwards is only rewritten by the
// session controller.
type NetworkIdentity struct {
	NetworkName    string `json:"network_name"`
	NetworkSecret  string `json:"network_secret"`
	BackendAddress string `json:"backend_address"`
}

// ValidateAttribute checks a single attribute value against the provisioning
// rules: valid UTF-8, no longer than MaxAttributeLen bytes.
func ValidateAttribute(name string, value []byte) error {
	if len(value) > MaxAttributeLen {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrValidation, name, len(value), MaxAttributeLen)
	}
	if !utf8.Valid(value) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrValidation, name)
	}
	return nil
}

// Validate checks every field of the identity.
func (id NetworkIdentity) Validate() error {
	if err := ValidateAttribute(KeyNetworkName, []byte(id.NetworkName)); err != nil {
		return err
	}
	if err := ValidateAttribute(KeyNetworkSecret, []byte(id.NetworkSecret)); err != nil {
		return err
	}
	return ValidateAttribute(KeyBackendAddress, []byte(id.BackendAddress))
}

// Complete reports whether all three attributes are present. An incomplete
// identity keeps the device in the provisioning state.
func (id NetworkIdentity) Complete() bool {
	return id.NetworkName != "" && id.NetworkSecret != "" && id.BackendAddress != ""
}

// BackendHTTPBase derives the backend's HTTP base URL from the configured
// streaming address:
//
//	ws://host:port/ws  -> http://host:port
//	wss://host/ws      -> https://host
//
// Addresses already using http or https are returned unchanged.
func (id NetworkIdentity) BackendHTTPBase() string {
	return HTTPBaseURL(id.BackendAddress)
}

// HTTPBaseURL rewrites a websocket URL to the corresponding HTTP origin,
// dropping any path. Non-websocket URLs pass through untouched.
func HTTPBaseURL(addr string) string {
	addr = strings.TrimSpace(addr)
	var converted string
	switch {
	case strings.HasPrefix(addr, "wss://"):
		converted = "https://" + strings.TrimPrefix(addr, "wss://")
	case strings.HasPrefix(addr, "ws://"):
		converted = "http://" + strings.TrimPrefix(addr, "ws://")
	default:
		return addr
	}
	if i := strings.Index(converted, "://"); i >= 0 {
		if j := strings.IndexByte(converted[i+3:], '/'); j >= 0 {
			return converted[:i+3+j]
		}
	}
	return converted
}
