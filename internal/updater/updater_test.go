package updater_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mupaco/controlunit/internal/model"
	"github.com/mupaco/controlunit/internal/updater"
)

// entityFor splits an httptest server URL into a bare Host and numeric
// Port, matching the declarative EntityDescription shape.
func entityFor(t *testing.T, identifier, rawURL string) model.EntityDescription {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return model.EntityDescription{Identifier: identifier, Host: u.Scheme + "://" + host, Port: port}
}

func TestDispatchSendsToEveryEntity(t *testing.T) {
	var mu sync.Mutex
	var hits int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	entities := []model.EntityDescription{
		entityFor(t, "a", srv.URL),
		entityFor(t, "b", srv.URL),
	}
	u := updater.New(func() []model.EntityDescription { return entities }, nil)

	require.NoError(t, u.Dispatch(context.Background(), []byte(`{"cmd":"reboot"}`)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, hits)
}

func TestDispatchIsolatesPerEntityFailures(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	entities := []model.EntityDescription{
		{Identifier: "unreachable", Host: "http://127.0.0.1", Port: 1},
		entityFor(t, "good", good.URL),
	}
	u := updater.New(func() []model.EntityDescription { return entities }, nil)

	err := u.Dispatch(context.Background(), []byte(`{}`))
	assert.NoError(t, err)
}

func TestDispatchErrorsWhenAllEntitiesFail(t *testing.T) {
	entities := []model.EntityDescription{
		{Identifier: "unreachable", Host: "http://127.0.0.1", Port: 1},
	}
	u := updater.New(func() []model.EntityDescription { return entities }, nil)

	err := u.Dispatch(context.Background(), []byte(`{}`))
	assert.Error(t, err)
}

func TestDispatchNoEntitiesIsNotAnError(t *testing.T) {
	u := updater.New(func() []model.EntityDescription { return nil }, nil)
	assert.NoError(t, u.Dispatch(context.Background(), []byte(`{}`)))
}
