package temperature

import (
	"strconv"
	"strings"

	"codeberg.org/mutker/modemtemp/internal/errors"
	"codeberg.org/mutker/modemtemp/internal/logger"
)

// Parse extracts the channel values from a raw +QTEMP reply. A reply that
// lacks the marker or reports an error is rejected, and a single value
// outside the hardware range rejects the whole reading.
func Parse(raw []byte, prefixes Prefixes) (Reading, error) {
	errFactory := errors.New()
	text := string(raw)

	if !strings.Contains(text, Marker) {
		return Reading{}, errFactory.WithMessage(ErrInvalidFormat, "response marker not found")
	}

	if hasErrorLine(text) {
		return Reading{}, errFactory.WithMessage(ErrInvalidFormat, "modem reported an error")
	}

	var r Reading
	for _, ch := range []Channel{ChannelModem, ChannelAP, ChannelPA} {
		prefix := prefixes.get(ch)
		if prefix == "" {
			continue
		}

		value, ok, err := findValue(text, prefix)
		if err != nil {
			return Reading{}, errFactory.Wrap(ErrOutOfRange, err).WithData(ch.String())
		}
		if !ok {
			continue
		}

		if value < HardwareMinC || value > HardwareMaxC {
			return Reading{}, errFactory.WithData(ErrOutOfRange, struct {
				Channel string
				Celsius int
			}{ch.String(), value})
		}

		r.set(ch, Sample{Celsius: value, Present: true})
	}

	if r.Empty() {
		logger.Warn().
			Str("modem_prefix", prefixes.Modem).
			Str("ap_prefix", prefixes.AP).
			Str("pa_prefix", prefixes.PA).
			Msg("No configured temperature channel found in response")
	}

	return r, nil
}

// findValue locates `"prefix"` on a marker line and parses the number after
// it. ok is false when no usable occurrence exists.
func findValue(text, prefix string) (value int, ok bool, err error) {
	pattern := `"` + prefix + `"`

	for offset := 0; offset < len(text); {
		idx := strings.Index(text[offset:], pattern)
		if idx < 0 {
			return 0, false, nil
		}
		idx += offset
		offset = idx + len(pattern)

		lineStart := strings.LastIndexAny(text[:idx], "\r\n") + 1
		if !strings.HasPrefix(strings.TrimLeft(text[lineStart:], " \t"), Marker) {
			continue
		}

		rest := strings.TrimLeft(text[offset:], " \t,\"")
		digits := numberPrefix(rest)
		if digits == "" {
			continue
		}

		n, err := strconv.Atoi(digits)
		if err != nil {
			return 0, false, err
		}

		return n, true, nil
	}

	return 0, false, nil
}

// numberPrefix returns the leading signed integer of s, or "" if there is none
func numberPrefix(s string) string {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}

	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}

	if end == start {
		return ""
	}

	return s[:end]
}

func hasErrorLine(text string) bool {
	for _, line := range strings.FieldsFunc(text, isLineBreak) {
		line = strings.TrimSpace(line)
		if line == "ERROR" || strings.HasPrefix(line, "+CME ERROR") || strings.HasPrefix(line, "+CMS ERROR") {
			return true
		}
	}

	return false
}

func isLineBreak(r rune) bool {
	return r == '\r' || r == '\n'
}
