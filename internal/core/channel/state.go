package channel

// State is the latest accepted payment state of a channel: one variant per
// mode, each exposing the monotonic index the guards compare on. Absent
// state reads as index zero, so the first accepted payment always carries
// index >= 1.
type State interface {
	// Mode identifies the variant.
	Mode() Mode
	// Index is the mode-specific monotonic index: the cumulative owed
	// amount for signature mode, k for PayWord, i for PayTree.
	Index() uint64

	clone() State
}

// SignatureState is the latest cumulative signed owed-amount update.
type SignatureState struct {
	OwedAmount      uint64 `codec:"owed_amount"`
	ClientSignature []byte `codec:"client_signature"`
}

func (s *SignatureState) Mode() Mode    { return ModeSignature }
func (s *SignatureState) Index() uint64 { return s.OwedAmount }

func (s *SignatureState) clone() State {
	return &SignatureState{
		OwedAmount:      s.OwedAmount,
		ClientSignature: append([]byte(nil), s.ClientSignature...),
	}
}

// PaywordState is the latest accepted hash-chain token.
type PaywordState struct {
	K     uint64 `codec:"k"`
	Token []byte `codec:"token"`
}

func (s *PaywordState) Mode() Mode    { return ModePayword }
func (s *PaywordState) Index() uint64 { return s.K }

func (s *PaywordState) clone() State {
	return &PaywordState{
		K:     s.K,
		Token: append([]byte(nil), s.Token...),
	}
}

// PaytreeState is the latest accepted Merkle leaf and inclusion proof.
type PaytreeState struct {
	I     uint64   `codec:"i"`
	Leaf  []byte   `codec:"leaf"`
	Proof [][]byte `codec:"proof"`
}

func (s *PaytreeState) Mode() Mode    { return ModePaytree }
func (s *PaytreeState) Index() uint64 { return s.I }

func (s *PaytreeState) clone() State {
	proof := make([][]byte, len(s.Proof))
	for i, p := range s.Proof {
		proof[i] = append([]byte(nil), p...)
	}
	return &PaytreeState{
		I:     s.I,
		Leaf:  append([]byte(nil), s.Leaf...),
		Proof: proof,
	}
}

// InitialState is the unit element a channel starts from: index zero in
// every mode. It is a reference point, never an acceptable payment.
func InitialState(mode Mode, commitment Commitment) State {
	switch mode {
	case ModePayword:
		return &PaywordState{K: 0, Token: append([]byte(nil), commitment.Root...)}
	case ModePaytree:
		return &PaytreeState{I: 0}
	default:
		return &SignatureState{OwedAmount: 0}
	}
}
