package mailslot

import (
	"fmt"
	"strings"
)

// Mode is the per-channel blocking policy. It applies to both push and pop.
type Mode int32

const (
	// NonBlocking makes push and pop fail immediately when their condition is unmet.
	NonBlocking Mode = 0
	// Blocking suspends the caller until the condition holds or its context ends.
	Blocking Mode = 1
)

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m == Blocking || m == NonBlocking
}

func (m Mode) String() string {
	switch m {
	case Blocking:
		return "blocking"
	case NonBlocking:
		return "non-blocking"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// ParseMode parses the textual form used in configuration files.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "blocking", "block", "1":
		return Blocking, nil
	case "non-blocking", "nonblocking", "non_blocking", "0":
		return NonBlocking, nil
	default:
		return NonBlocking, fmt.Errorf("unknown blocking mode %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid blocking mode %d", int32(m))
	}

	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}

	*m = parsed

	return nil
}
