// Package strategy turns indicator snapshots into BUY/SELL/HOLD decisions and
// computes stop management for an open long.
package strategy

import (
	"context"
	"fmt"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
)

// Reason tags recorded with each decision.
const (
	ReasonCrossDown      = "cross-down"
	ReasonOscillatorExit = "oscillator-exit"
	ReasonCooldown       = "cooldown"
	ReasonEntry          = "entry"
	ReasonNone           = "none"
)

// Params holds the decision parameters for one symbol-timeframe.
type Params struct {
	Name           string
	Version        string
	EntryThreshold float64 // oscillator must be below this to enter
	ExitThreshold  float64 // oscillator above this forces an exit
	StopATRMult    float64
	TrailATRMult   float64
	CooldownBars   int
}

// Decision is the outcome of evaluating one bar.
type Decision struct {
	Action      domain.Action
	Stop        float64 // proposed initial stop, set on BUY only
	Reason      string
	EntrySignal bool
	ExitSignal  bool
}

// Session carries the strategy state for one symbol-timeframe. It is not safe
// for concurrent use; the orchestrator owning it serializes access.
type Session struct {
	params   Params
	logger   ports.Logger
	cooldown int
}

// NewSession creates a Session with no cooldown pending.
func NewSession(params Params, logger ports.Logger) (*Session, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if params.StopATRMult <= 0 {
		return nil, fmt.Errorf("stop atr mult must be positive: %w", ports.ErrConfigurationError)
	}
	if params.CooldownBars < 0 {
		return nil, fmt.Errorf("cooldown bars must not be negative: %w", ports.ErrConfigurationError)
	}
	if params.TrailATRMult < 0 {
		return nil, fmt.Errorf("trail atr mult must not be negative: %w", ports.ErrConfigurationError)
	}
	return &Session{params: params, logger: logger}, nil
}

// Params returns the session parameters.
func (s *Session) Params() Params { return s.params }

// Cooldown returns the bars left before a new entry is allowed.
func (s *Session) Cooldown() int { return s.cooldown }

// ArmCooldown starts the post-entry cooldown. Call it once the entry is placed.
func (s *Session) ArmCooldown() { s.cooldown = s.params.CooldownBars }

// Commit applies what a decision from Decide consumes, once the decision is
// durable: a cooldown hold uses up one bar.
func (s *Session) Commit(d Decision) {
	if d.Reason == ReasonCooldown && s.cooldown > 0 {
		s.cooldown--
	}
}

// CrossedAbove reports an upward cross of fast over slow between prev and curr.
func CrossedAbove(prev, curr domain.IndicatorSnapshot) bool {
	return prev.Fast <= prev.Slow && curr.Fast > curr.Slow
}

// CrossedBelow reports a downward cross of fast under slow between prev and curr.
func CrossedBelow(prev, curr domain.IndicatorSnapshot) bool {
	return prev.Fast >= prev.Slow && curr.Fast < curr.Slow
}

// Decide evaluates one closed bar. Exit rules dominate while a position is open,
// then a pending cooldown holds, then the entry rule. It leaves the session
// unchanged; see Commit and ArmCooldown.
func (s *Session) Decide(ctx context.Context, prev, curr domain.IndicatorSnapshot, close float64, hasPosition bool) Decision {
	d := s.decide(prev, curr, close, hasPosition)
	s.logger.Debug(ctx, "Strategy decision", map[string]interface{}{
		"action": d.Action, "reason": d.Reason, "fast": curr.Fast, "slow": curr.Slow,
		"oscillator": curr.Oscillator, "cooldown": s.cooldown, "hasPosition": hasPosition,
	})
	return d
}

func (s *Session) decide(prev, curr domain.IndicatorSnapshot, close float64, hasPosition bool) Decision {
	if hasPosition {
		crossDown := CrossedBelow(prev, curr)
		overbought := curr.Oscillator > s.params.ExitThreshold
		if crossDown || overbought {
			reason := ReasonCrossDown
			if !crossDown {
				reason = ReasonOscillatorExit
			}
			return Decision{Action: domain.ActionSell, Reason: reason, ExitSignal: true}
		}
	}

	entrySignal := !hasPosition && CrossedAbove(prev, curr) && curr.Oscillator < s.params.EntryThreshold
	if s.cooldown > 0 {
		return Decision{Action: domain.ActionHold, Reason: ReasonCooldown, EntrySignal: entrySignal}
	}
	if entrySignal {
		return Decision{
			Action:      domain.ActionBuy,
			Stop:        close - s.params.StopATRMult*curr.Volatility,
			Reason:      ReasonEntry,
			EntrySignal: true,
		}
	}
	return Decision{Action: domain.ActionHold, Reason: ReasonNone}
}

// StopUpdate is a proposed stop for an open long.
type StopUpdate struct {
	Stop      float64
	Breakeven bool
	Trailing  bool
}

// ManageStop applies the breakeven and trailing rules to an open long. It returns
// ok=false when neither rule tightens the current stop.
//
// Breakeven moves the stop to entry once price has run one initial stop distance.
// Trailing proposes price - TrailATRMult * volatility.
func (s *Session) ManageStop(entry, initialStop, currentStop, price, volatility float64) (StopUpdate, bool) {
	best := StopUpdate{Stop: currentStop}
	if dist := entry - initialStop; dist > 0 && (price-entry)/dist >= 1 && currentStop < entry {
		best = StopUpdate{Stop: entry, Breakeven: true}
	}
	if s.params.TrailATRMult > 0 && volatility > 0 {
		if candidate := price - s.params.TrailATRMult*volatility; candidate > best.Stop {
			best = StopUpdate{Stop: candidate, Breakeven: best.Breakeven, Trailing: true}
		}
	}
	return best, best.Stop > currentStop
}
