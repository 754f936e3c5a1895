// Package model defines the data types the controller persists and
// exchanges: EntityDescription, its monitoring address, and registry
// entries.
package model

import (
	"strconv"
	"strings"

	"github.com/mupaco/controlunit/internal/ctlerr"
)

// MonitoringAddress identifies where the controller should subscribe for
// an entity's runtime-data stream: "channel@url:port". The port is
// separated by the last ':' so url itself may contain colons (IPv6); the
// channel ends at the first '@', so the channel may contain ':' but not
// '@', while the url may contain '@'.
type MonitoringAddress struct {
	Channel string
	URL     string
	Port    int
}

// ParseMonitoringAddress splits raw per the channel@url:port rule: the
// last ':' separates port from url+channel, the first '@' in the
// remainder separates channel from url.
func ParseMonitoringAddress(raw string) (MonitoringAddress, error) {
	lastColon := strings.LastIndex(raw, ":")
	if lastColon < 0 {
		return MonitoringAddress{}, ctlerr.New(ctlerr.Validation, "monitoring address missing port: "+raw)
	}
	head, portStr := raw[:lastColon], raw[lastColon+1:]
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return MonitoringAddress{}, ctlerr.New(ctlerr.Validation, "monitoring address has non-numeric port: "+raw)
	}

	at := strings.Index(head, "@")
	if at < 0 {
		return MonitoringAddress{}, ctlerr.New(ctlerr.Validation, "monitoring address missing channel: "+raw)
	}
	channel, url := head[:at], head[at+1:]

	addr := MonitoringAddress{Channel: channel, URL: url, Port: port}
	if err := addr.Validate(); err != nil {
		return MonitoringAddress{}, err
	}
	return addr, nil
}

// String reassembles the address into its wire form.
func (a MonitoringAddress) String() string {
	return a.Channel + "@" + a.URL + ":" + strconv.Itoa(a.Port)
}

// Validate enforces non-blank channel/url and a port in [0,65535].
func (a MonitoringAddress) Validate() error {
	if a.Channel == "" {
		return ctlerr.Field(ctlerr.Validation, "channel", "must not be blank")
	}
	if a.URL == "" {
		return ctlerr.Field(ctlerr.Validation, "url", "must not be blank")
	}
	if a.Port < 0 || a.Port > 65535 {
		return ctlerr.Field(ctlerr.Validation, "port", "out of range [0,65535]")
	}
	return nil
}

// EntityDescription is the declarative payload a supervised entity
// registers with. Host and Port are where the controller can reach the
// entity for update/command delivery; Monitoring is where the controller
// subscribes for the entity's runtime-data stream.
type EntityDescription struct {
	Identifier  string
	Host        string
	Port        int
	Monitoring  MonitoringAddress
	SourceRef   string // optional diagnostic reference to the originating declarative document
	ProjectName string // key under which the declarative parser stored this payload
}

// Validate enforces the non-blank-field and range invariants every
// registered entity must satisfy.
func (d EntityDescription) Validate() error {
	if d.Identifier == "" {
		return ctlerr.Field(ctlerr.Validation, "identifier", "must not be blank")
	}
	if d.Host == "" {
		return ctlerr.Field(ctlerr.Validation, "host", "must not be blank")
	}
	if d.Port < 0 || d.Port > 65535 {
		return ctlerr.Field(ctlerr.Validation, "port", "out of range [0,65535]")
	}
	return d.Monitoring.Validate()
}

// RegistryEntry pairs a monotonic arrival-time key with the
// EntityDescription it was derived from.
type RegistryEntry struct {
	Key         RegistryKey
	Description EntityDescription
}

// RegistryKey orders entries by arrival time with a tiebreak for entries
// arriving within the same millisecond.
type RegistryKey struct {
	TimestampMillis int64
	Tiebreak        uint32
}

// Less reports whether k sorts before other.
func (k RegistryKey) Less(other RegistryKey) bool {
	if k.TimestampMillis != other.TimestampMillis {
		return k.TimestampMillis < other.TimestampMillis
	}
	return k.Tiebreak < other.Tiebreak
}
