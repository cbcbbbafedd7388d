package session

import (
	"context"
	"strconv"
	"time"

	"github.com/ghettovoice/sipnotify/config"
)

// Policy bounds a wait: at most Attempts ticks, Interval apart.
type Policy struct {
	Attempts int
	Interval time.Duration
}

// MaxDuration returns the upper bound of the time spent sleeping by a wait.
func (p Policy) MaxDuration() time.Duration {
	if p.Attempts <= 0 {
		return 0
	}
	return time.Duration(p.Attempts) * p.Interval
}

// Policies are the wait policies of the session handlers.
type Policies struct {
	// Startup bounds the wait for the engine to reach On.
	Startup Policy
	// Inbound bounds the wait for a pushed message.
	Inbound Policy
	// Reply bounds the wait for the reply delivery.
	Reply Policy
	// Drain bounds the wait for the engine to reach Off on teardown.
	Drain Policy
}

// Wait policy names in the shared configuration store.
const (
	PolicyStartup = "startup"
	PolicyInbound = "inbound"
	PolicyReply   = "reply"
	PolicyDrain   = "drain"
)

// DefaultPolicies returns the reference policies.
func DefaultPolicies() Policies {
	return Policies{
		Startup: Policy{Attempts: 50, Interval: 10 * time.Millisecond},
		Inbound: Policy{Attempts: 100, Interval: 100 * time.Millisecond},
		Reply:   Policy{Attempts: 50, Interval: 10 * time.Millisecond},
		Drain:   Policy{Attempts: 100, Interval: 10 * time.Millisecond},
	}
}

// PoliciesFromStore returns the default policies overridden by the wait section of st.
func PoliciesFromStore(st *config.Store) Policies {
	ps := DefaultPolicies()
	for name, p := range map[string]*Policy{
		PolicyStartup: &ps.Startup,
		PolicyInbound: &ps.Inbound,
		PolicyReply:   &ps.Reply,
		PolicyDrain:   &ps.Drain,
	} {
		p.Attempts, p.Interval = st.WaitPolicy(name, p.Attempts, p.Interval)
	}
	return ps
}

// Outcome is the result of a bounded wait.
type Outcome int

const (
	// Satisfied means the predicate held.
	Satisfied Outcome = iota
	// TimedOut means the attempts were exhausted.
	TimedOut
	// Aborted means a stop was requested or the context is done.
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Satisfied:
		return "Satisfied"
	case TimedOut:
		return "TimedOut"
	case Aborted:
		return "Aborted"
	default:
		return "Outcome(" + strconv.Itoa(int(o)) + ")"
	}
}

// SleepFunc pauses between ticks. It returns an error when ctx is done first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err() //errtrace:skip
	}
}

// Waiter polls a predicate, driving the event loop between checks.
type Waiter struct {
	// Iterate is called at the start of every tick.
	Iterate func(ctx context.Context)
	// Aborted is checked after Iterate, before the predicate.
	Aborted func() bool
	// Sleep pauses between ticks. If nil, [Sleep] is used.
	Sleep SleepFunc
}

// WaitFor runs at most p.Attempts ticks. Every tick calls Iterate, then
// returns Aborted if abort is requested, Satisfied if pred holds, and
// otherwise sleeps p.Interval unless it was the last tick.
// No sleep follows the last tick, so the wait never exceeds
// p.Attempts*p.Interval plus the time spent in Iterate.
func (w *Waiter) WaitFor(ctx context.Context, pred func() bool, p Policy) Outcome {
	sleep := w.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	for i := range p.Attempts {
		if ctx.Err() != nil {
			return Aborted
		}
		if w.Iterate != nil {
			w.Iterate(ctx)
		}
		if w.Aborted != nil && w.Aborted() {
			return Aborted
		}
		if pred() {
			return Satisfied
		}
		if i == p.Attempts-1 {
			break
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return Aborted
		}
	}
	return TimedOut
}
