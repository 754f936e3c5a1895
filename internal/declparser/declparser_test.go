package declparser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mupaco/controlunit/internal/declparser"
)

const validPayload = `
identifier: sensor-1
host: http://sensor-1.local
port: 8080
monitoring: temp@broker:1883
`

func TestAddModelAndLoadProjectRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := declparser.New(dir)

	project, err := p.AddModel([]byte(validPayload), "")
	require.NoError(t, err)
	assert.Equal(t, "sensor-1", project)

	desc, err := p.LoadProject(project)
	require.NoError(t, err)
	assert.Equal(t, "sensor-1", desc.Identifier)
	assert.Equal(t, "http://sensor-1.local", desc.Host)
	assert.Equal(t, 8080, desc.Port)
	assert.Equal(t, "sensor-1", desc.SourceRef)
	assert.Equal(t, "temp", desc.Monitoring.Channel)
	assert.Equal(t, "broker", desc.Monitoring.URL)
	assert.Equal(t, 1883, desc.Monitoring.Port)
}

func TestAddModelRejectsOutOfRangePort(t *testing.T) {
	dir := t.TempDir()
	p := declparser.New(dir)
	_, err := p.AddModel([]byte("identifier: i\nhost: h\nport: 70000\nmonitoring: c@u:1\n"), "")
	assert.Error(t, err)
}

func TestAddModelRejectsMissingIdentifier(t *testing.T) {
	dir := t.TempDir()
	p := declparser.New(dir)
	_, err := p.AddModel([]byte("host: h\nmonitoring: c@u:1\n"), "")
	assert.Error(t, err)
}

func TestAddModelRejectsMalformedMonitoring(t *testing.T) {
	dir := t.TempDir()
	p := declparser.New(dir)
	_, err := p.AddModel([]byte("identifier: i\nhost: h\nmonitoring: not-valid\n"), "")
	assert.Error(t, err)
}

func TestRemoveIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	p := declparser.New(dir)
	project, err := p.AddModel([]byte(validPayload), "")
	require.NoError(t, err)

	require.NoError(t, p.Remove(project))
	require.NoError(t, p.Remove(project))

	_, err = p.LoadProject(project)
	assert.Error(t, err)
}

func TestLoadProjectSurvivesCacheMiss(t *testing.T) {
	dir := t.TempDir()
	p1 := declparser.New(dir)
	project, err := p1.AddModel([]byte(validPayload), "")
	require.NoError(t, err)

	p2 := declparser.New(dir)
	desc, err := p2.LoadProject(project)
	require.NoError(t, err)
	assert.Equal(t, "sensor-1", desc.Identifier)
}
