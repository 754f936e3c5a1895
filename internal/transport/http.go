package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mupaco/controlunit/internal/ctlerr"
	"github.com/mupaco/controlunit/internal/logging"
)

const defaultHTTPTimeout = time.Second

// sharedClient is pooled across every HTTPEndpoint's outbound publish
// calls rather than instantiated per call.
var sharedClient = &http.Client{}

// HTTPEndpoint is the embedded-HTTP-server Endpoint variant: StartInbound
// registers Config.Channel as a gin route and brings the server up on
// first use; Publish acts as an outbound client against Config's
// url:port+channel.
type HTTPEndpoint struct {
	log *logging.Logger
	cfg Config

	mu     sync.Mutex
	status Status
	engine *gin.Engine
	server *http.Server
}

// NewHTTPEndpoint builds an HTTPEndpoint. log may be nil.
func NewHTTPEndpoint(log *logging.Logger) *HTTPEndpoint {
	return &HTTPEndpoint{log: log}
}

func (h *HTTPEndpoint) Create(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = int(defaultHTTPTimeout / time.Millisecond)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != 0 && h.status != Initialized {
		return ctlerr.New(ctlerr.State, "endpoint already created")
	}
	h.cfg = cfg

	gin.SetMode(gin.ReleaseMode)
	h.engine = gin.New()
	h.status = Initialized
	return nil
}

func (h *HTTPEndpoint) StartInbound(handler Handler) error {
	h.mu.Lock()
	if h.status != Initialized {
		h.mu.Unlock()
		return ctlerr.New(ctlerr.State, "endpoint must be created before starting inbound")
	}
	engine := h.engine
	channel := h.cfg.Channel
	h.mu.Unlock()

	engine.POST(channel, func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil || len(body) == 0 {
			c.String(http.StatusBadRequest, "null request")
			return
		}
		if err := handler(body); err != nil {
			if h.log != nil {
				h.log.Error(err, "inbound handler failed", "channel", channel)
			}
			c.String(http.StatusBadRequest, "request rejected")
			return
		}
		c.String(http.StatusOK, "Registration received")
	})

	addr := fmt.Sprintf("%s:%d", h.cfg.URL, h.cfg.Port)
	server := &http.Server{Addr: addr, Handler: engine}

	h.mu.Lock()
	h.server = server
	h.status = Running
	h.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			h.mu.Lock()
			h.status = Initialized
			h.mu.Unlock()
			return ctlerr.Wrap(ctlerr.Network, "failed to bind http endpoint", err)
		}
	case <-time.After(50 * time.Millisecond):
		// server is up and serving; ListenAndServe blocks until Shutdown.
	}
	return nil
}

func (h *HTTPEndpoint) Publish(ctx context.Context, payload []byte) error {
	h.mu.Lock()
	cfg := h.cfg
	h.mu.Unlock()

	url := fmt.Sprintf("http://%s:%d%s", cfg.URL, cfg.Port, cfg.Channel)
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Timeout)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return ctlerr.Wrap(ctlerr.Protocol, "failed to build outbound request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sharedClient.Do(req)
	if err != nil {
		return ctlerr.Wrap(ctlerr.Network, "outbound publish failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return ctlerr.New(ctlerr.Protocol, fmt.Sprintf("outbound publish rejected with status %d", resp.StatusCode))
	}
	return nil
}

func (h *HTTPEndpoint) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *HTTPEndpoint) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.status == Stopped {
		h.mu.Unlock()
		return nil
	}
	server := h.server
	h.status = Stopped
	h.mu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return ctlerr.Wrap(ctlerr.Network, "failed to shut down http endpoint", err)
	}
	return nil
}

// Engine exposes the underlying gin.Engine (nil before Create). The
// ambient /metrics route is not registered here; it is served by
// lifecycle.ControllerContext.MetricsEngine on a separate server.
func (h *HTTPEndpoint) Engine() *gin.Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine
}
