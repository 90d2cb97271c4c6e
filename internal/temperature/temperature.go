package temperature

const (
	// Marker starts every line of a +QTEMP reply
	Marker = "+QTEMP:"

	// Command queries all modem thermal sensors
	Command = "AT+QTEMP"

	// Hardware limits of the RM520N sensors
	HardwareMinC = -40
	HardwareMaxC = 125

	HardwareMinMilli = HardwareMinC * 1000
	HardwareMaxMilli = HardwareMaxC * 1000
)

// Channel identifies one of the three reported sensors
type Channel int

const (
	ChannelModem Channel = iota
	ChannelAP
	ChannelPA
)

func (c Channel) String() string {
	switch c {
	case ChannelModem:
		return "modem"
	case ChannelAP:
		return "ap"
	case ChannelPA:
		return "pa"
	default:
		return "unknown"
	}
}

// Prefixes holds the sensor name reported by the modem for each channel.
// An empty prefix disables that channel.
type Prefixes struct {
	Modem string
	AP    string
	PA    string
}

func (p Prefixes) get(c Channel) string {
	switch c {
	case ChannelModem:
		return p.Modem
	case ChannelAP:
		return p.AP
	case ChannelPA:
		return p.PA
	}
	return ""
}

// Sample is one channel's value in degrees Celsius
type Sample struct {
	Celsius int
	Present bool
}

// Reading is the parsed result of one exchange
type Reading struct {
	Modem Sample
	AP    Sample
	PA    Sample
}

// Channels returns the samples in channel order
func (r Reading) Channels() [3]Sample {
	return [3]Sample{r.Modem, r.AP, r.PA}
}

// Empty reports whether no channel was found
func (r Reading) Empty() bool {
	return !r.Modem.Present && !r.AP.Present && !r.PA.Present
}

func (r *Reading) set(c Channel, s Sample) {
	switch c {
	case ChannelModem:
		r.Modem = s
	case ChannelAP:
		r.AP = s
	case ChannelPA:
		r.PA = s
	}
}

// Policy decides which channel represents the modem
type Policy string

const (
	// PolicyMax picks the hottest channel
	PolicyMax Policy = "max"
	// PolicyFirst picks the first present channel in modem, AP, PA order
	PolicyFirst Policy = "first"
)

func (p Policy) IsValid() bool {
	return p == PolicyMax || p == PolicyFirst
}

func (p Policy) String() string {
	return string(p)
}
