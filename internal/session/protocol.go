package session

import "encoding/json"

// Policy is the recognizer behaviour requested in the start handshake.
type Policy struct {
	// SingleUtterance ends recognition after the first utterance.
	SingleUtterance bool

	// KeepConnection asks the recognizer to keep the socket open after an
	// utterance ends.
	KeepConnection bool

	// PartialInterval is the partial-result cadence in milliseconds.
	PartialInterval int

	// ReuseTolerance is passed through to the recognizer unchanged.
	ReuseTolerance int

	// SilenceThreshold is the trailing silence in milliseconds that ends an
	// utterance.
	SilenceThreshold int
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		SingleUtterance:  true,
		KeepConnection:   false,
		PartialInterval:  500,
		ReuseTolerance:   100,
		SilenceThreshold: 1000,
	}
}

type startMessage struct {
	Request      string      `json:"request"`
	ChannelIndex int         `json:"channel_index"`
	Params       audioParams `json:"params"`
	Config       policyWire  `json:"config"`
}

type audioParams struct {
	Encoding     string `json:"encoding"`
	SampleRate   int    `json:"sample_rate"`
	ChannelCount int    `json:"channel_count"`
}

type policyWire struct {
	SingleUtterance  bool `json:"single_utterance"`
	KeepConnection   bool `json:"keep_connection"`
	PartialInterval  int  `json:"partial_interval"`
	ReuseTolerance   int  `json:"reuse_tolerance"`
	SilenceThreshold int  `json:"silence-threshold"`
}

// Handshake returns the start message announcing mono s16 audio at
// sampleRate.
func (p Policy) Handshake(sampleRate int) ([]byte, error) {
	return json.Marshal(startMessage{
		Request:      "start",
		ChannelIndex: 0,
		Params: audioParams{
			Encoding:     "s16",
			SampleRate:   sampleRate,
			ChannelCount: 1,
		},
		Config: policyWire{
			SingleUtterance:  p.SingleUtterance,
			KeepConnection:   p.KeepConnection,
			PartialInterval:  p.PartialInterval,
			ReuseTolerance:   p.ReuseTolerance,
			SilenceThreshold: p.SilenceThreshold,
		},
	})
}

var stopMessage = []byte(`{"request":"stop"}`)
