package temperature_test

import (
	"testing"

	"codeberg.org/mutker/modemtemp/internal/errors"
	"codeberg.org/mutker/modemtemp/internal/temperature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultPrefixes = temperature.Prefixes{
	Modem: "modem-ambient-usr",
	AP:    "cpuss-0-usr",
	PA:    "modem-lte-sub6-pa1",
}

func present(c int) temperature.Sample {
	return temperature.Sample{Celsius: c, Present: true}
}

func TestParseWorkedExample(t *testing.T) {
	raw := "+QTEMP:\n+QTEMP: \"modem-ambient-usr\",25\n+QTEMP: \"cpuss-0-usr\",30\nOK"

	r, err := temperature.Parse([]byte(raw), defaultPrefixes)
	require.NoError(t, err)
	assert.Equal(t, present(25), r.Modem)
	assert.Equal(t, present(30), r.AP)
	assert.False(t, r.PA.Present)

	milli, err := temperature.Select(r, temperature.PolicyMax)
	require.NoError(t, err)
	assert.Equal(t, 30000, milli)
}

func TestParseModemReply(t *testing.T) {
	raw := "AT+QTEMP\r\r\n" +
		"+QTEMP: \"modem-lte-sub6-pa1\",\"41\"\r\n" +
		"+QTEMP: \"modem-ambient-usr\",\"38\"\r\n" +
		"+QTEMP: \"cpuss-0-usr\",\"44\"\r\n" +
		"\r\nOK\r\n"

	r, err := temperature.Parse([]byte(raw), defaultPrefixes)
	require.NoError(t, err)
	assert.Equal(t, [3]temperature.Sample{present(38), present(44), present(41)}, r.Channels())
}

func TestParseRejectsMissingMarker(t *testing.T) {
	for _, raw := range []string{"", "OK", "\"modem-ambient-usr\",25\nOK", "ERROR"} {
		r, err := temperature.Parse([]byte(raw), defaultPrefixes)
		require.Error(t, err, raw)
		assert.Equal(t, temperature.ErrInvalidFormat, errors.CodeOf(err))
		assert.True(t, r.Empty())
	}
}

func TestParseRejectsErrorTerminator(t *testing.T) {
	for _, raw := range []string{
		"+QTEMP: \"modem-ambient-usr\",25\r\nERROR\r\n",
		"+QTEMP:\r\n+CME ERROR: 100\r\n",
	} {
		r, err := temperature.Parse([]byte(raw), defaultPrefixes)
		require.Error(t, err)
		assert.Equal(t, temperature.ErrInvalidFormat, errors.CodeOf(err))
		assert.True(t, r.Empty())
	}
}

func TestParseOutOfRangePoisonsReading(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"too hot", "+QTEMP: \"modem-ambient-usr\",\"25\"\n+QTEMP: \"cpuss-0-usr\",\"126\"\nOK"},
		{"too cold", "+QTEMP: \"modem-ambient-usr\",\"-41\"\n+QTEMP: \"cpuss-0-usr\",\"30\"\nOK"},
		{"overflow", "+QTEMP: \"modem-lte-sub6-pa1\",\"99999999999999999999999\"\nOK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := temperature.Parse([]byte(tt.raw), defaultPrefixes)
			require.Error(t, err)
			assert.Equal(t, temperature.ErrOutOfRange, errors.CodeOf(err))
			assert.True(t, r.Empty(), "no partial values may leak")
		})
	}
}

func TestParseBoundsAreInclusive(t *testing.T) {
	raw := "+QTEMP: \"modem-ambient-usr\",\"-40\"\n+QTEMP: \"cpuss-0-usr\",\"125\"\nOK"

	r, err := temperature.Parse([]byte(raw), defaultPrefixes)
	require.NoError(t, err)
	assert.Equal(t, present(-40), r.Modem)
	assert.Equal(t, present(125), r.AP)
}

func TestParseIgnoresPrefixOffMarkerLine(t *testing.T) {
	raw := "note \"modem-ambient-usr\",99\n+QTEMP: \"cpuss-0-usr\",30\n+QTEMP: \"modem-ambient-usr\",27\nOK"

	r, err := temperature.Parse([]byte(raw), defaultPrefixes)
	require.NoError(t, err)
	assert.Equal(t, present(27), r.Modem)
	assert.Equal(t, present(30), r.AP)
}

func TestParseAllAbsentIsNotAnError(t *testing.T) {
	raw := "+QTEMP: \"aoss-0-usr\",\"33\"\nOK"

	r, err := temperature.Parse([]byte(raw), defaultPrefixes)
	require.NoError(t, err)
	assert.True(t, r.Empty())
}

func TestParseDisabledChannel(t *testing.T) {
	raw := "+QTEMP: \"modem-ambient-usr\",\"25\"\n+QTEMP: \"cpuss-0-usr\",\"30\"\nOK"

	r, err := temperature.Parse([]byte(raw), temperature.Prefixes{Modem: "modem-ambient-usr"})
	require.NoError(t, err)
	assert.Equal(t, present(25), r.Modem)
	assert.False(t, r.AP.Present)
}

func TestParseValueWithoutDigits(t *testing.T) {
	raw := "+QTEMP: \"modem-ambient-usr\",\"n/a\"\n+QTEMP: \"cpuss-0-usr\",\"30\"\nOK"

	r, err := temperature.Parse([]byte(raw), defaultPrefixes)
	require.NoError(t, err)
	assert.False(t, r.Modem.Present)
	assert.Equal(t, present(30), r.AP)
}
