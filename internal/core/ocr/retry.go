package ocr

import (
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	// MaxRetryDelay caps every backoff wait, jitter included.
	MaxRetryDelay = 60 * time.Second

	standardBackoffBase = 2.0
	overloadBackoffBase = 2.5
	maxJitterFraction   = 0.25
)

var overloadKeywords = []string{
	"503",
	"overloaded",
	"unavailable",
	"resource exhausted",
	"quota exceeded",
	"rate limit",
}

// IsOverloadError reports whether err looks like the remote side shedding load.
// The vision APIs expose no stable error taxonomy, so this is a keyword match
// on the lower-cased message.
func IsOverloadError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range overloadKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// Action is the next step of the retry state machine.
type Action int

const (
	ActionDone Action = iota
	ActionRetry
	ActionExhausted
)

func (a Action) String() string {
	switch a {
	case ActionDone:
		return "done"
	case ActionRetry:
		return "retry"
	case ActionExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Decision is what to do after attempt n finished with some error.
type Decision struct {
	Action   Action
	Delay    time.Duration
	Overload bool
}

// RetryPolicy computes backoff for a single OCR call. It carries no state
// between calls, so one value can be shared by concurrent requests.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	// Jitter returns a value in [0, 1). Nil means math/rand/v2.
	Jitter func() float64
}

// Next decides the transition out of ATTEMPTING(attempt). attempt is 0-indexed.
func (p RetryPolicy) Next(attempt int, err error) Decision {
	if err == nil {
		return Decision{Action: ActionDone}
	}
	overload := IsOverloadError(err)
	if attempt >= p.MaxRetries-1 {
		return Decision{Action: ActionExhausted, Overload: overload}
	}
	return Decision{
		Action:   ActionRetry,
		Delay:    p.Backoff(attempt, overload),
		Overload: overload,
	}
}

// WorstCase is the longest one call can take: every attempt runs for
// attemptTimeout and every wait is an overload backoff at full jitter.
func (p RetryPolicy) WorstCase(attemptTimeout time.Duration) time.Duration {
	attempts := p.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	total := time.Duration(attempts) * attemptTimeout
	for a := 0; a < attempts-1; a++ {
		base := p.baseSeconds(a, true)
		total += secondsToDuration(base + base*maxJitterFraction)
	}
	return total
}

// Backoff returns the jittered wait before the retry that follows attempt.
func (p RetryPolicy) Backoff(attempt int, overload bool) time.Duration {
	base := p.baseSeconds(attempt, overload)
	jitter := p.jitter()
	if jitter < 0 {
		jitter = 0
	} else if jitter >= 1 {
		jitter = 1
	}
	return secondsToDuration(base + base*maxJitterFraction*jitter)
}

// BaseDelay is the delay before jitter, clamped to MaxRetryDelay.
func (p RetryPolicy) BaseDelay(attempt int, overload bool) time.Duration {
	return secondsToDuration(p.baseSeconds(attempt, overload))
}

func (p RetryPolicy) baseSeconds(attempt int, overload bool) float64 {
	if attempt < 0 {
		attempt = 0
	}
	mult := standardBackoffBase
	if overload {
		mult = overloadBackoffBase
	}
	secs := p.InitialDelay.Seconds() * math.Pow(mult, float64(attempt))
	if math.IsInf(secs, 1) || secs > MaxRetryDelay.Seconds() {
		return MaxRetryDelay.Seconds()
	}
	return secs
}

func (p RetryPolicy) jitter() float64 {
	if p.Jitter != nil {
		return p.Jitter()
	}
	return rand.Float64()
}

// secondsToDuration clamps in float space so huge exponents cannot overflow.
func secondsToDuration(secs float64) time.Duration {
	if math.IsNaN(secs) || secs < 0 {
		return 0
	}
	if secs > MaxRetryDelay.Seconds() {
		return MaxRetryDelay
	}
	return time.Duration(secs * float64(time.Second))
}
