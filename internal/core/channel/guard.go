package channel

// Guard is the fixed predicate the state store evaluates atomically to
// decide whether a candidate state may replace the current one. It is a
// small closed DSL of comparisons — strictly-greater index, index cap,
// amount cap — not arbitrary code, so a store backend can run it inside its
// own critical section (the role the original served with a server-side
// script).
type Guard struct {
	Mode          Mode
	ChannelAmount uint64
	UnitValue     uint64
	IndexCap      uint64 // max_k / max_i; zero in signature mode
}

// GuardFor derives the guard for a channel from its immutable fields.
func GuardFor(c *Channel) Guard {
	return Guard{
		Mode:          c.Mode,
		ChannelAmount: c.Amount,
		UnitValue:     c.UnitValue,
		IndexCap:      c.Commitment.IndexCap,
	}
}

// Check evaluates the guard. current may be nil: absent state reads as
// index zero, so the first accepted payment needs index >= 1. A nil return
// means accept; otherwise the sentinel rejection reason is returned and the
// caller must leave state unchanged.
func (g Guard) Check(current, candidate State) error {
	if candidate == nil || candidate.Mode() != g.Mode {
		return ErrModeMismatch
	}

	var currentIndex uint64
	if current != nil {
		if current.Mode() != g.Mode {
			return ErrModeMismatch
		}
		currentIndex = current.Index()
	}

	if candidate.Index() <= currentIndex {
		return ErrNonMonotonicIndex
	}

	switch g.Mode {
	case ModeSignature:
		if candidate.Index() > g.ChannelAmount {
			return ErrExceedsChannelAmount
		}
	case ModePayword, ModePaytree:
		if candidate.Index() > g.IndexCap {
			return ErrExceedsIndexCap
		}
		if g.UnitValue != 0 && candidate.Index() > g.ChannelAmount/g.UnitValue {
			return ErrExceedsChannelAmount
		}
	default:
		return ErrModeMismatch
	}
	return nil
}
