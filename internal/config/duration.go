// Copyright 2020-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// Duration is a time.Duration that is written in config files as a human readable string.
// On top of the units understood by time.ParseDuration, a "d" (24 hour day) unit is accepted, e.g. "1d12h".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	v := time.Duration(d)
	if v == 0 {
		return "0s"
	}

	var b strings.Builder
	if v < 0 {
		b.WriteByte('-')
		v = -v
	}
	for _, unit := range []struct {
		suffix string
		size   time.Duration
	}{
		{"d", day},
		{"h", time.Hour},
		{"m", time.Minute},
		{"s", time.Second},
		{"ms", time.Millisecond},
		{"us", time.Microsecond},
		{"ns", time.Nanosecond},
	} {
		if n := v / unit.size; n > 0 {
			b.WriteString(strconv.FormatInt(int64(n), 10))
			b.WriteString(unit.suffix)
			v -= n * unit.size
		}
	}
	return b.String()
}

// ParseDuration parses strings such as "90s", "1m" or "1d12h".
func ParseDuration(s string) (Duration, error) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) == 0 {
		return 0, fmt.Errorf("invalid duration %q: empty", s)
	}

	neg := false
	if trimmed[0] == '-' || trimmed[0] == '+' {
		neg = trimmed[0] == '-'
		trimmed = trimmed[1:]
	}

	var days time.Duration
	if idx := strings.IndexByte(trimmed, 'd'); idx != -1 {
		n, err := strconv.ParseInt(trimmed[:idx], 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q: bad day count", s)
		}
		days = time.Duration(n) * day
		trimmed = trimmed[idx+1:]
	}

	var rest time.Duration
	if len(trimmed) > 0 {
		var err error
		rest, err = time.ParseDuration(trimmed)
		if err != nil || rest < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
	}

	total := days + rest
	if neg {
		total = -total
	}
	return Duration(total), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string such as \"1m\": %w", err)
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
