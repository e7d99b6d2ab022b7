package state

import "time"

// RoundOracle maps wall-clock time onto the repeating round/end-round/break cycle.
// Every peer derives its phase from its own clock; there is no phase announcement.
type RoundOracle struct {
	RoundTime    time.Duration
	EndRoundTime time.Duration
	BreakTime    time.Duration
	StageTime    time.Duration
}

func NewRoundOracle(cfg *RankingCfg) RoundOracle {
	return RoundOracle{
		RoundTime:    cfg.RoundTime.Duration(),
		EndRoundTime: cfg.EndRoundTime.Duration(),
		BreakTime:    cfg.BreakTime.Duration(),
		StageTime:    cfg.StageTime.Duration(),
	}
}

func (o RoundOracle) cycle() time.Duration {
	return o.RoundTime + o.EndRoundTime + o.BreakTime
}

// untilOffset returns the time until the cycle next reaches offset
func untilOffset(now time.Time, period, offset time.Duration) time.Duration {
	pos := time.Duration(now.UnixNano() % int64(period))
	d := (offset - pos) % period
	if d < 0 {
		d += period
	}
	return d
}

// SecToRound returns the time until the next round starts
func (o RoundOracle) SecToRound(now time.Time) time.Duration {
	return untilOffset(now, o.cycle(), 0)
}

// SecToEndRound returns the time until the current round ends
func (o RoundOracle) SecToEndRound(now time.Time) time.Duration {
	return untilOffset(now, o.cycle(), o.RoundTime)
}

// SecToBreak returns the time until the next break starts
func (o RoundOracle) SecToBreak(now time.Time) time.Duration {
	return untilOffset(now, o.cycle(), o.RoundTime+o.EndRoundTime)
}

// SecToNewStage returns the time until the next stage boundary
func (o RoundOracle) SecToNewStage(now time.Time) time.Duration {
	return untilOffset(now, o.StageTime, 0)
}
