// Package activation implements the six-digit code binding flow: the device
// requests a code from the backend, shows it to the user, and polls until
// the backend confirms the user entered it.
package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/second-state/echokit-box/domain/entities"
)

// Flow errors beyond the shared transport kinds.
var (
	ErrInvalidChallenge = errors.New("activation: challenge rejected")
	ErrExpired          = errors.New("activation: code expired")
	ErrTimeout          = errors.New("activation: binding timed out")
)

const (
	defaultTimeout      = 10 * time.Second
	defaultPollInterval = 5 * time.Second
	defaultMaxPolls     = 60
)

// CodeResponse is the backend's answer to a code request.
type CodeResponse struct {
	Code      string `json:"code"`
	Challenge string `json:"challenge"`
	ExpiresIn uint64 `json:"expiresIn"`
}

// Bound is the successful binding result.
type Bound struct {
	Status     string `json:"status"`
	UserID     string `json:"userId"`
	DeviceName string `json:"deviceName"`
	ProxyURL   string `json:"proxyUrl"`
}

type pending struct {
	Status       string `json:"status"`
	RetryAfterMS uint64 `json:"retryAfterMs"`
}

type verifyRequest struct {
	DeviceID        string `json:"device_id"`
	Challenge       string `json:"challenge"`
	FirmwareVersion string `json:"firmware_version"`
}

// Session is one activation attempt against a backend.
type Session struct {
	deviceID        string
	baseURL         string
	firmwareVersion string

	client *http.Client
	logger *zap.Logger

	// Poll knobs, overridable in tests.
	PollInterval time.Duration
	MaxPolls     int

	code      string
	challenge string
	expiresIn time.Duration
}

// NewSession prepares an activation session. backendAddr may be the ws://
// streaming URL; the HTTP origin is derived from it.
func NewSession(deviceID, backendAddr, firmwareVersion string, logger *zap.Logger) *Session {
	base := strings.TrimRight(entities.HTTPBaseURL(backendAddr), "/")
	return &Session{
		deviceID:        strings.ToLower(deviceID),
		baseURL:         base,
		firmwareVersion: firmwareVersion,
		client:          &http.Client{Timeout: defaultTimeout},
		logger:          logger,
		PollInterval:    defaultPollInterval,
		MaxPolls:        defaultMaxPolls,
	}
}

// Code returns the six-digit code once RequestCode has succeeded.
func (s *Session) Code() string {
	return s.code
}

// CodeDigits returns the code one digit at a time, for spoken playback.
func (s *Session) CodeDigits() []rune {
	return []rune(s.code)
}

// RequestCode asks the backend for a fresh activation code.
//
// GET {base}/api/activation?device_id={device_id}
func (s *Session) RequestCode(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/activation?device_id=%s", s.baseURL, s.deviceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("activation: build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: activation request: %v", entities.ErrConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("%w: read activation response: %v", entities.ErrConnection, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: activation status %d: %s", entities.ErrProtocol, resp.StatusCode, body)
	}

	var cr CodeResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return fmt.Errorf("%w: decode activation response: %v", entities.ErrProtocol, err)
	}
	s.code = cr.Code
	s.challenge = cr.Challenge
	s.expiresIn = time.Duration(cr.ExpiresIn) * time.Second

	s.logger.Info("activation code issued",
		zap.String("code", s.code),
		zap.Duration("expires_in", s.expiresIn))
	return nil
}

// Verify asks the backend whether the user has entered the code yet. It
// returns the binding on success, or nil while the backend is still waiting.
//
// POST {base}/api/activation/verify
func (s *Session) Verify(ctx context.Context) (*Bound, error) {
	body, err := json.Marshal(verifyRequest{
		DeviceID:        s.deviceID,
		Challenge:       s.challenge,
		FirmwareVersion: s.firmwareVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("activation: encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/activation/verify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("activation: build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: verify request: %v", entities.ErrConnection, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, fmt.Errorf("%w: read verify response: %v", entities.ErrConnection, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var bound Bound
		if err := json.Unmarshal(data, &bound); err != nil {
			return nil, fmt.Errorf("%w: decode verify response: %v", entities.ErrProtocol, err)
		}
		s.logger.Info("device bound",
			zap.String("user_id", bound.UserID),
			zap.String("device_name", bound.DeviceName))
		return &bound, nil
	case http.StatusAccepted:
		var p pending
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: decode pending response: %v", entities.ErrProtocol, err)
		}
		return nil, nil
	case http.StatusUnauthorized:
		return nil, ErrInvalidChallenge
	case http.StatusNotFound, http.StatusGone:
		return nil, ErrExpired
	default:
		return nil, fmt.Errorf("%w: verify status %d: %s", entities.ErrProtocol, resp.StatusCode, data)
	}
}

// Run drives the whole flow: request a code, hand it to show, then poll
// until bound, expired, or out of attempts.
func (s *Session) Run(ctx context.Context, show func(code string)) (*Bound, error) {
	if err := s.RequestCode(ctx); err != nil {
		return nil, err
	}
	if show != nil {
		show(s.code)
	}

	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for i := 0; i < s.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		bound, err := s.Verify(ctx)
		if err != nil {
			if errors.Is(err, entities.ErrConnection) {
				// Transient transport trouble: keep polling.
				s.logger.Warn("verify attempt failed", zap.Error(err))
				continue
			}
			return nil, err
		}
		if bound != nil {
			return bound, nil
		}
	}
	return nil, ErrTimeout
}
