// Copyright 2020-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package plog

import (
	"bytes"
	"context"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"
)

// AddZapOverridesToContext adds Zap overrides to the context.
// This is done so that production code can read these values for test overrides.
func AddZapOverridesToContext(
	ctx context.Context,
	t *testing.T,
	w io.Writer,
	f func(*zapcore.EncoderConfig),
	fakeClock *clocktesting.FakeClock,
	opts ...zap.Option,
) context.Context {
	t.Helper() // discourage use outside of tests
	require.NotNil(t, fakeClock, "fakeClock is required")

	opts = append(opts, zap.WithClock(ZapClock(fakeClock)))

	return context.WithValue(ctx, testOverridesContextKey, &testOverrides{w: w, f: f, opts: opts})
}

// TestLogger returns a Logger that writes JSON lines into the returned buffer at every level.
// Timestamps are fixed and caller line numbers are replaced with <line>.
func TestLogger(t *testing.T) (Logger, *bytes.Buffer) {
	t.Helper()

	var log bytes.Buffer

	return New().withLogrMod(func(l logr.Logger) logr.Logger {
			return l.WithSink(testZapr(t, &log).GetSink())
		}),
		&log
}

func testZapr(t *testing.T, w io.Writer) logr.Logger {
	t.Helper()

	now, err := time.Parse(time.RFC3339Nano, "2099-08-08T13:57:36.123456789Z")
	require.NoError(t, err)

	ctx := AddZapOverridesToContext(context.Background(), t, w,
		func(config *zapcore.EncoderConfig) {
			// make test assertions less painful to write while keeping them as close to the real thing as possible
			config.EncodeCaller = func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
				trimmed := caller.TrimmedPath()
				if idx := strings.LastIndexByte(trimmed, ':'); idx != -1 {
					trimmed = trimmed[:idx+1] + "<line>"
				}
				enc.AppendString(trimmed + funcEncoder(caller))
			}
		},
		clocktesting.NewFakeClock(now), // have the clock be static during tests
	)

	// log everything during tests, there is no buffering so we can ignore flush
	zl, _, err := newZapr(zap.NewAtomicLevelAt(math.MinInt8), "json", w,
		ctx.Value(testOverridesContextKey).(*testOverrides).f,
		ctx.Value(testOverridesContextKey).(*testOverrides).opts...,
	)
	require.NoError(t, err)

	return zl
}

var _ zapcore.Clock = &clockAdapter{}

type clockAdapter struct {
	clock clock.Clock
}

func (c *clockAdapter) Now() time.Time {
	return c.clock.Now()
}

func (c *clockAdapter) NewTicker(duration time.Duration) *time.Ticker {
	return &time.Ticker{C: c.clock.Tick(duration)}
}

func ZapClock(c clock.Clock) zapcore.Clock {
	return &clockAdapter{clock: c}
}
