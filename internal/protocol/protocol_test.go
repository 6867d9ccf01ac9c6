package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/livescan/internal/errors"
	"github.com/anstrom/livescan/internal/hosts"
)

func TestParseFullRecord(t *testing.T) {
	rec, err := Parse("LIVE|10.0.0.5|host1|aa:bb:cc:dd:ee:ff|VendorX|22,80|12ms")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", rec.IP)
	assert.True(t, rec.Alive)
	assert.Equal(t, hosts.Some("host1"), rec.Hostname)
	assert.Equal(t, hosts.Some("aa:bb:cc:dd:ee:ff"), rec.MAC)
	assert.Equal(t, hosts.Some("VendorX"), rec.Vendor)
	assert.Equal(t, hosts.Some("22,80"), rec.Ports)
	assert.Equal(t, hosts.Some("12ms"), rec.Latency)
}

func TestParseAbsentFields(t *testing.T) {
	rec, err := Parse("LIVE|10.0.0.6||||")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.6", rec.IP)
	for name, v := range map[string]hosts.Value{
		"hostname": rec.Hostname,
		"mac":      rec.MAC,
		"vendor":   rec.Vendor,
		"ports":    rec.Ports,
		"latency":  rec.Latency,
	} {
		assert.True(t, v.IsAbsent(), "%s should be absent", name)
		_, ok := v.Get()
		assert.False(t, ok, "%s should not be an empty string", name)
	}
}

func TestParseOptionalLatency(t *testing.T) {
	rec, err := Parse("LIVE|192.168.0.10|nas|||445")
	require.NoError(t, err)
	assert.Equal(t, hosts.Some("445"), rec.Ports)
	assert.True(t, rec.Latency.IsAbsent())
}

func TestParseExtraFieldsIgnored(t *testing.T) {
	rec, err := Parse("LIVE|10.0.0.7|h|m|v|p|1ms|future")
	require.NoError(t, err)
	assert.Equal(t, hosts.Some("1ms"), rec.Latency)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		code   errors.ErrorCode
		fields int
	}{
		{"no sentinel", "Scanning 10.0.0.0/24...", errors.CodeNoSentinel, 0},
		{"lowercase sentinel", "live|10.0.0.1||||", errors.CodeNoSentinel, 0},
		{"four fields", "LIVE|10.0.0.5|host1|aa:bb|VendorX", errors.CodeIncomplete, 4},
		{"sentinel only", "LIVE|", errors.CodeIncomplete, 1},
		{"empty address", "LIVE||host|||", errors.CodeIncomplete, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Parse(tt.line)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.code))
			assert.Equal(t, hosts.Record{}, rec)

			var pe *errors.ProtocolError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.fields, pe.Fields)
		})
	}
}

func TestParseTrimsLineEndings(t *testing.T) {
	rec, err := Parse("LIVE|10.0.0.8|host8|||22|3ms\r\n")
	require.NoError(t, err)
	assert.Equal(t, hosts.Some("3ms"), rec.Latency)
}

func TestParseLongMalformedLineIsTruncatedInError(t *testing.T) {
	line := "LIVE|" + strings.Repeat("x", 200)
	_, err := Parse(line)
	require.Error(t, err)
	assert.Less(t, len(err.Error()), len(line))
}

func TestIsRecord(t *testing.T) {
	assert.True(t, IsRecord("LIVE|x"))
	assert.False(t, IsRecord(" LIVE|x"))
	assert.False(t, IsRecord(""))
}
