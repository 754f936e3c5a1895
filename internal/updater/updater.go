// Package updater implements the Software Updater / Command Sender: it
// consumes update/command payloads from the update Receiver and fans
// them out to every currently-registered entity's host address,
// isolating per-entity delivery failures so one unreachable entity never
// blocks delivery to the rest.
package updater

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mupaco/controlunit/internal/ctlerr"
	"github.com/mupaco/controlunit/internal/logging"
	"github.com/mupaco/controlunit/internal/model"
)

// EntityLister supplies the current set of registered entities at
// dispatch time, decoupling the Updater from the Registry's concrete
// type.
type EntityLister func() []model.EntityDescription

// Updater dispatches update/command payloads to every registered
// entity's Host address via a shared http.Client.
type Updater struct {
	client  *http.Client
	entities EntityLister
	log     *logging.Logger
}

// New builds an Updater. entities is called fresh on every Dispatch so
// newly-registered entities are always included.
func New(entities EntityLister, log *logging.Logger) *Updater {
	return &Updater{
		client:   &http.Client{Timeout: 5 * time.Second},
		entities: entities,
		log:      log,
	}
}

// Dispatch sends payload to every currently-registered entity's host
// address, continuing past per-entity delivery errors. It returns a
// ctlerr.Network error only if every entity failed; partial success is
// not an error.
func (u *Updater) Dispatch(ctx context.Context, payload []byte) error {
	targets := u.entities()
	if len(targets) == 0 {
		return nil
	}

	failures := 0
	for _, e := range targets {
		if err := u.send(ctx, e, payload); err != nil {
			failures++
			if u.log != nil {
				u.log.Error(err, "update delivery failed", "identifier", e.Identifier, "host", e.Host)
			}
		}
	}

	if failures == len(targets) {
		return ctlerr.New(ctlerr.Network, "update delivery failed for every registered entity")
	}
	return nil
}

// targetURL combines an entity's Host and Port into a request URL. Host
// may carry a scheme and even its own port (e.g. from a declarative
// payload written before Port existed); any host-embedded port is
// discarded in favor of the validated Port field.
func targetURL(e model.EntityDescription) string {
	scheme := "http://"
	host := e.Host
	switch {
	case strings.HasPrefix(host, "https://"):
		scheme, host = "https://", strings.TrimPrefix(host, "https://")
	case strings.HasPrefix(host, "http://"):
		scheme, host = "http://", strings.TrimPrefix(host, "http://")
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return fmt.Sprintf("%s%s:%d", scheme, host, e.Port)
}

func (u *Updater) send(ctx context.Context, e model.EntityDescription, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL(e), bytes.NewReader(payload))
	if err != nil {
		return ctlerr.Wrap(ctlerr.Protocol, "failed to build update request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return ctlerr.Wrap(ctlerr.Network, "update request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return ctlerr.New(ctlerr.Protocol, "update request rejected")
	}
	return nil
}
