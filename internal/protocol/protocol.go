// Package protocol decodes the line protocol written by the external scan
// process on its standard output:
//
//	LIVE|ADDRESS|HOSTNAME|MAC|VENDOR|PORTS|LATENCY
//
// Empty fields mean the scanner has no data for them. Lines without the
// sentinel are free-form log text.
package protocol

import (
	"strings"

	"github.com/anstrom/livescan/internal/errors"
	"github.com/anstrom/livescan/internal/hosts"
)

const (
	// Sentinel prefixes every record line.
	Sentinel = "LIVE|"
	// Delimiter separates the fields of a record.
	Delimiter = "|"
	// RequiredFields is the number of fields up to and including the port
	// summary. Latency is optional.
	RequiredFields = 5
)

// Field positions after the sentinel has been stripped.
const (
	fieldAddress = iota
	fieldHostname
	fieldMAC
	fieldVendor
	fieldPorts
	fieldLatency
)

// IsRecord reports whether a line carries the record sentinel.
func IsRecord(line string) bool {
	return strings.HasPrefix(line, Sentinel)
}

// Parse decodes one record line. It never panics on malformed input; a line
// that cannot be decoded yields a *errors.ProtocolError and a zero Record.
func Parse(line string) (hosts.Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if !IsRecord(line) {
		return hosts.Record{}, errors.NewProtocolError(errors.CodeNoSentinel, line, 0)
	}

	fields := strings.Split(strings.TrimPrefix(line, Sentinel), Delimiter)
	if len(fields) < RequiredFields {
		return hosts.Record{}, errors.NewProtocolError(errors.CodeIncomplete, line, len(fields))
	}

	address := strings.TrimSpace(fields[fieldAddress])
	if address == "" {
		return hosts.Record{}, errors.NewProtocolError(errors.CodeIncomplete, line, len(fields))
	}

	rec := hosts.Record{
		IP:       hosts.CanonicalIP(address),
		Alive:    true,
		Hostname: field(fields, fieldHostname),
		MAC:      field(fields, fieldMAC),
		Vendor:   field(fields, fieldVendor),
		Ports:    field(fields, fieldPorts),
		Latency:  field(fields, fieldLatency),
	}
	return rec, nil
}

func field(fields []string, i int) hosts.Value {
	if i >= len(fields) {
		return hosts.Absent()
	}
	return hosts.FromField(strings.TrimSpace(fields[i]))
}
