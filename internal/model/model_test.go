package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mupaco/controlunit/internal/model"
)

func TestParseMonitoringAddress(t *testing.T) {
	addr, err := model.ParseMonitoringAddress("temperature@sensor-host:1883")
	require.NoError(t, err)
	assert.Equal(t, "temperature", addr.Channel)
	assert.Equal(t, "sensor-host", addr.URL)
	assert.Equal(t, 1883, addr.Port)
}

func TestParseMonitoringAddressLastColonWins(t *testing.T) {
	addr, err := model.ParseMonitoringAddress("chan@2001:db8::1:8080")
	require.NoError(t, err)
	assert.Equal(t, "chan", addr.Channel)
	assert.Equal(t, "2001:db8::1", addr.URL)
	assert.Equal(t, 8080, addr.Port)
}

func TestParseMonitoringAddressMalformed(t *testing.T) {
	cases := []string{
		"no-port-or-at",
		"missing-at:1883",
		"chan@host:notaport",
	}
	for _, raw := range cases {
		_, err := model.ParseMonitoringAddress(raw)
		assert.Error(t, err, raw)
	}
}

func TestMonitoringAddressBoundaryPorts(t *testing.T) {
	for _, port := range []int{0, 65535} {
		addr := model.MonitoringAddress{Channel: "c", URL: "u", Port: port}
		assert.NoError(t, addr.Validate())
	}
	for _, port := range []int{-1, 65536} {
		addr := model.MonitoringAddress{Channel: "c", URL: "u", Port: port}
		assert.Error(t, addr.Validate())
	}
}

func TestEntityDescriptionValidate(t *testing.T) {
	valid := model.EntityDescription{
		Identifier: "sensor-1",
		Host:       "http://sensor-1.local",
		Port:       8080,
		Monitoring: model.MonitoringAddress{Channel: "temp", URL: "broker", Port: 1883},
	}
	assert.NoError(t, valid.Validate())

	missingIdentifier := valid
	missingIdentifier.Identifier = ""
	assert.Error(t, missingIdentifier.Validate())

	missingHost := valid
	missingHost.Host = ""
	assert.Error(t, missingHost.Validate())

	for _, port := range []int{-1, 65536} {
		invalidPort := valid
		invalidPort.Port = port
		assert.Error(t, invalidPort.Validate(), "port %d should be rejected", port)
	}
}

func TestRegistryKeyOrdering(t *testing.T) {
	a := model.RegistryKey{TimestampMillis: 100, Tiebreak: 0}
	b := model.RegistryKey{TimestampMillis: 100, Tiebreak: 1}
	c := model.RegistryKey{TimestampMillis: 101, Tiebreak: 0}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
}
