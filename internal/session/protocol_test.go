package session

import "testing"

func TestPolicy_Handshake(t *testing.T) {
	t.Parallel()

	got, err := DefaultPolicy().Handshake(16000)
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	want := `{"request":"start","channel_index":0,` +
		`"params":{"encoding":"s16","sample_rate":16000,"channel_count":1},` +
		`"config":{"single_utterance":true,"keep_connection":false,"partial_interval":500,"reuse_tolerance":100,"silence-threshold":1000}}`
	if string(got) != want {
		t.Errorf("handshake =\n%s\nwant\n%s", got, want)
	}
}

func TestPolicy_HandshakeCustom(t *testing.T) {
	t.Parallel()

	p := Policy{KeepConnection: true, PartialInterval: 250, SilenceThreshold: 800}
	got, err := p.Handshake(8000)
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	want := `{"request":"start","channel_index":0,` +
		`"params":{"encoding":"s16","sample_rate":8000,"channel_count":1},` +
		`"config":{"single_utterance":false,"keep_connection":true,"partial_interval":250,"reuse_tolerance":0,"silence-threshold":800}}`
	if string(got) != want {
		t.Errorf("handshake =\n%s\nwant\n%s", got, want)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s    State
		want string
		live bool
	}{
		{Idle, "idle", false},
		{AwaitingToken, "awaiting_token", true},
		{Connecting, "connecting", true},
		{HandshakePending, "handshake_pending", true},
		{Streaming, "streaming", true},
		{Stopping, "stopping", true},
		{Closed, "closed", false},
		{State(42), "unknown", true},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
		if got := tt.s.Live(); got != tt.live {
			t.Errorf("%s.Live() = %v, want %v", tt.want, got, tt.live)
		}
	}
}
