// Package report notifies the backend of the device's firmware version,
// typically right after boot so the backend can track fleet rollout.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/second-state/echokit-box/domain/entities"
)

const defaultTimeout = 10 * time.Second

// Request is the JSON body POSTed to /api/devices/report.
type Request struct {
	DeviceID        string `json:"device_id"`
	MACAddress      string `json:"mac_address"`
	FirmwareVersion string `json:"firmware_version"`
}

// Reporter sends device reports to the backend derived from the provisioned
// streaming address.
type Reporter struct {
	client *http.Client
	logger *zap.Logger
}

// NewReporter builds a reporter with a bounded request timeout.
func NewReporter(logger *zap.Logger) *Reporter {
	return &Reporter{
		client: &http.Client{Timeout: defaultTimeout},
		logger: logger,
	}
}

// Report posts the firmware version. The backend address may be the ws://
// streaming URL; it is converted to the HTTP origin first. Identifiers are
// normalized to lowercase hex before sending.
func (r *Reporter) Report(ctx context.Context, backendAddr, deviceID, mac, firmwareVersion string) error {
	base := strings.TrimRight(entities.HTTPBaseURL(backendAddr), "/")
	url := base + "/api/devices/report"

	body, err := json.Marshal(Request{
		DeviceID:        strings.ToLower(deviceID),
		MACAddress:      strings.ToLower(mac),
		FirmwareVersion: firmwareVersion,
	})
	if err != nil {
		return fmt.Errorf("report: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("report: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: report: %v", entities.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: report rejected with status %d: %s", entities.ErrProtocol, resp.StatusCode, msg)
	}

	r.logger.Info("firmware version reported",
		zap.String("device_id", strings.ToLower(deviceID)),
		zap.String("firmware_version", firmwareVersion))
	return nil
}
