package provisioning

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/second-state/echokit-box/domain/entities"
)

// Portal is the captive-portal HTTP surface of the provisioning service.
// It serves the setup page and a small JSON API, plus the OS connectivity
// probes that make phones pop the portal automatically.
type Portal struct {
	svc         *Service
	state       func() entities.DeviceState
	reprovision func()
	version     string
	logger      *zap.Logger
	echo        *echo.Echo
}

// ConfigPayload is the JSON body of GET/POST /api/config. Empty fields in a
// POST are skipped, so a client may update one attribute at a time.
type ConfigPayload struct {
	NetworkName    string `json:"network_name"`
	NetworkSecret  string `json:"network_secret"`
	BackendAddress string `json:"backend_address"`
}

// StatusResponse is the JSON body of GET /api/status.
type StatusResponse struct {
	Version     string `json:"version"`
	State       string `json:"state"`
	Provisioned bool   `json:"provisioned"`
}

// ErrorResponse mirrors the API error shape used elsewhere in the project.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewPortal wires the portal routes. state reports the current device state
// for /api/status. reprovision, when non-nil, is invoked by POST
// /api/reprovision to push the device back into provisioning mode; passing
// nil leaves the route unregistered.
func NewPortal(svc *Service, state func() entities.DeviceState, reprovision func(), version string, logger *zap.Logger) *Portal {
	p := &Portal{
		svc:         svc,
		state:       state,
		reprovision: reprovision,
		version:     version,
		logger:      logger,
		echo:        echo.New(),
	}
	p.echo.HideBanner = true
	p.echo.HidePort = true
	p.routes()
	return p
}

func (p *Portal) routes() {
	e := p.echo
	e.GET("/", p.handleIndex)
	e.GET("/api/status", p.handleStatus)
	e.GET("/api/config", p.handleConfigGet)
	e.POST("/api/config", p.handleConfigPost)
	if p.reprovision != nil {
		e.POST("/api/reprovision", p.handleReprovision)
	}

	// Connectivity probes: Android, iOS/macOS, Windows.
	e.GET("/generate_204", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/hotspot-detect.html", func(c echo.Context) error {
		return c.HTML(http.StatusOK, "<HTML><HEAD><TITLE>Success</TITLE></HEAD><BODY>Success</BODY></HTML>")
	})
	e.GET("/connecttest.txt", func(c echo.Context) error {
		return c.String(http.StatusOK, "Microsoft Connect Test")
	})
}

// Handler exposes the portal as an http.Handler for tests and embedding.
func (p *Portal) Handler() http.Handler {
	return p.echo
}

// Start serves the portal until ctx is cancelled.
func (p *Portal) Start(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		p.echo.Shutdown(context.Background())
	}()
	p.logger.Info("captive portal listening", zap.String("addr", addr))
	err := p.echo.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (p *Portal) handleIndex(c echo.Context) error {
	return c.HTML(http.StatusOK, indexHTML)
}

func (p *Portal) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Version:     p.version,
		State:       p.state().String(),
		Provisioned: p.svc.Staged(c.Request().Context()),
	})
}

func (p *Portal) handleConfigGet(c echo.Context) error {
	ctx := c.Request().Context()
	var payload ConfigPayload
	name, err := p.svc.Read(ctx, entities.KeyNetworkName)
	if err != nil {
		return p.internalError(c, err)
	}
	payload.NetworkName = string(name)

	secret, err := p.svc.Read(ctx, entities.KeyNetworkSecret)
	if err != nil {
		return p.internalError(c, err)
	}
	payload.NetworkSecret = maskSecret(string(secret))

	backend, err := p.svc.Read(ctx, entities.KeyBackendAddress)
	if err != nil {
		return p.internalError(c, err)
	}
	payload.BackendAddress = string(backend)

	return c.JSON(http.StatusOK, payload)
}

func (p *Portal) handleConfigPost(c echo.Context) error {
	var payload ConfigPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "request body must be JSON",
		})
	}

	writes := map[string]string{
		entities.KeyNetworkName:    payload.NetworkName,
		entities.KeyNetworkSecret:  payload.NetworkSecret,
		entities.KeyBackendAddress: payload.BackendAddress,
	}
	for key, value := range writes {
		if value == "" {
			continue
		}
		if err := p.svc.Write(key, []byte(value)); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_attribute",
				Message: err.Error(),
			})
		}
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "configuration staged",
	})
}

func (p *Portal) handleReprovision(c echo.Context) error {
	p.logger.Info("re-provision requested via portal")
	p.reprovision()
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "re-provisioning requested",
	})
}

func (p *Portal) internalError(c echo.Context, err error) error {
	p.logger.Error("portal request failed", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: err.Error(),
	})
}

// maskSecret hides the stored secret while showing that one exists.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	n := len(s)
	if n > 8 {
		n = 8
	}
	return strings.Repeat("*", n)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>EchoKit Setup</title>
<style>
* { box-sizing: border-box; margin: 0; padding: 0; }
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
       background: #1a1a2e; color: #eee; min-height: 100vh; padding: 20px; }
.container { max-width: 400px; margin: 0 auto; }
h1 { text-align: center; margin-bottom: 24px; font-size: 24px; color: #00d4ff; }
.form-group { margin-bottom: 16px; }
label { display: block; margin-bottom: 6px; font-size: 14px; color: #aaa; }
input { width: 100%; padding: 12px; border: 1px solid #333; border-radius: 8px;
        background: #16213e; color: #eee; font-size: 16px; }
button { width: 100%; padding: 14px; border: none; border-radius: 8px;
         background: #00d4ff; color: #1a1a2e; font-size: 16px; font-weight: 600; }
#result { margin-top: 16px; text-align: center; font-size: 14px; }
</style>
</head>
<body>
<div class="container">
<h1>EchoKit Setup</h1>
<div class="form-group"><label>Network name</label><input id="network_name"></div>
<div class="form-group"><label>Network secret</label><input id="network_secret" type="password"></div>
<div class="form-group"><label>Backend address</label><input id="backend_address" placeholder="wss://..."></div>
<button onclick="save()">Save</button>
<div id="result"></div>
</div>
<script>
fetch('/api/config').then(r => r.json()).then(c => {
  document.getElementById('network_name').value = c.network_name || '';
  document.getElementById('backend_address').value = c.backend_address || '';
});
function save() {
  const body = {
    network_name: document.getElementById('network_name').value,
    network_secret: document.getElementById('network_secret').value,
    backend_address: document.getElementById('backend_address').value
  };
  fetch('/api/config', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify(body)
  }).then(r => r.json()).then(resp => {
    document.getElementById('result').textContent = resp.message || resp.error;
  });
}
</script>
</body>
</html>`
