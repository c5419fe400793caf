// Package logging provides the fleet's default ridgeline.Logger
// implementation backed by zerolog.
package logging

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

// reconnectLoopMessages are the log lines this fleet's own retry/backoff
// loops emit repeatedly while a broker or bus connection is down
// (JmsListenerFleet's reconnect loop, StreamOrchestrator's bus poll). These
// are the only messages eligible for sampling. Anything else — ack
// failures, store errors, handler exhaustion — always logs in full, since
// losing one of those to sampling could hide a genuine exactly-once
// violation rather than just noise from a stuck connection.
var reconnectLoopMessages = map[string]bool{
	"jms listener disconnected, backing off": true,
	"stream poll failed":                     true,
}

// DefaultLogger is a zerolog-backed ridgeline.Logger. Warn/Error calls
// whose message matches reconnectLoopMessages are sampled when
// RIDGELINE_LOG_SAMPLE_N is set; every other call logs unsampled.
type DefaultLogger struct {
	logger  zerolog.Logger
	sampler zerolog.Sampler
	sampled zerolog.Logger
}

// NewDefaultLogger builds a DefaultLogger writing to stderr with a
// timestamp field. Set RIDGELINE_LOG_SAMPLE_N to a value greater than 1 to
// sample the reconnect/poll-loop warnings 1-in-N; every other log call is
// never sampled.
func NewDefaultLogger() *DefaultLogger {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	var samp zerolog.Sampler
	if v := os.Getenv("RIDGELINE_LOG_SAMPLE_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			samp = zerolog.RandomSampler(n)
		}
	}
	var sampled zerolog.Logger
	if samp != nil {
		sampled = l.Sample(samp)
	}
	return &DefaultLogger{logger: l, sampler: samp, sampled: sampled}
}

func (l *DefaultLogger) log(event *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		if i+1 < len(keysAndValues) {
			event.Interface(key, keysAndValues[i+1])
		} else {
			event.Interface(key, nil)
		}
	}
	event.Msg(msg)
}

// sampledLogger picks the sampled or unsampled logger depending on whether
// msg is one of this fleet's known reconnect/poll-loop lines.
func (l *DefaultLogger) sampledLogger(msg string) zerolog.Logger {
	if l.sampler != nil && reconnectLoopMessages[msg] {
		return l.sampled
	}
	return l.logger
}

func (l *DefaultLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Debug(), msg, keysAndValues...)
}

func (l *DefaultLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Info(), msg, keysAndValues...)
}

func (l *DefaultLogger) Warn(msg string, keysAndValues ...interface{}) {
	lg := l.sampledLogger(msg)
	l.log(lg.Warn(), msg, keysAndValues...)
}

func (l *DefaultLogger) Error(msg string, keysAndValues ...interface{}) {
	lg := l.sampledLogger(msg)
	l.log(lg.Error(), msg, keysAndValues...)
}
