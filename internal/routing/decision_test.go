package routing

import (
	"errors"
	"strings"
	"testing"

	"github.com/gl-pgege/gl-fraud-mobile/internal/voice"
)

func testConfig(topology Topology) Config {
	return Config{
		CallerID:          "+15550001111",
		Topology:          topology,
		ConferenceName:    "GatherConferenceRoom",
		TranscribeURL:     "https://host.example/transcribe",
		StatusCallbackURL: "https://host.example/call-status",
	}
}

func TestNewDecider(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"conference", func(c *Config) {}, false},
		{"default topology", func(c *Config) { c.Topology = "" }, false},
		{"direct without room", func(c *Config) { c.Topology = TopologyDirect; c.ConferenceName = "" }, false},
		{"unknown topology", func(c *Config) { c.Topology = "mesh" }, true},
		{"conference without room", func(c *Config) { c.ConferenceName = "" }, true},
		{"missing transcribe url", func(c *Config) { c.TranscribeURL = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(TopologyConference)
			tt.mutate(&cfg)
			_, err := NewDecider(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewDecider() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecideRejectsInvalidRequests(t *testing.T) {
	d, err := NewDecider(testConfig(TopologyDirect))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  SetupRequest
	}{
		{"missing to", SetupRequest{RecipientType: "number"}},
		{"blank to", SetupRequest{To: "  ", RecipientType: "number"}},
		{"missing recipient type", SetupRequest{To: "+15552223333"}},
		{"unknown recipient type", SetupRequest{To: "+15552223333", RecipientType: "sip"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := d.Decide(tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("Decide() error = %v, want ErrInvalidRequest", err)
			}
			if decision != nil {
				t.Fatalf("Decide() returned a decision for an invalid request")
			}
		})
	}
}

func TestDecideCallerID(t *testing.T) {
	tests := []struct {
		name      string
		req       SetupRequest
		want      string
		wantNoun  string
		recipient voice.RecipientKind
	}{
		{
			name:      "number uses configured caller id",
			req:       SetupRequest{To: "+15552223333", From: "client:alice", RecipientType: "number"},
			want:      "+15550001111",
			wantNoun:  "<Number>+15552223333</Number>",
			recipient: voice.RecipientNumber,
		},
		{
			name:      "client uses request from",
			req:       SetupRequest{To: "bob", From: "client:alice", RecipientType: "client"},
			want:      "client:alice",
			wantNoun:  "<Client>bob</Client>",
			recipient: voice.RecipientClient,
		},
	}

	d, err := NewDecider(testConfig(TopologyDirect))
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := d.Decide(tt.req)
			if err != nil {
				t.Fatalf("Decide() error = %v", err)
			}
			if decision.CallerID != tt.want {
				t.Errorf("CallerID = %q, want %q", decision.CallerID, tt.want)
			}
			if decision.Recipient != tt.recipient {
				t.Errorf("Recipient = %q", decision.Recipient)
			}
			if !strings.Contains(decision.Twiml, `callerId="`+tt.want+`"`) {
				t.Errorf("twiml missing caller id: %s", decision.Twiml)
			}
			if !strings.Contains(decision.Twiml, tt.wantNoun) {
				t.Errorf("twiml missing %s: %s", tt.wantNoun, decision.Twiml)
			}
			if decision.Originate != nil {
				t.Errorf("direct topology should not originate")
			}
		})
	}
}

func TestDecideStartsTranscriptionBeforeDial(t *testing.T) {
	d, err := NewDecider(testConfig(TopologyDirect))
	if err != nil {
		t.Fatal(err)
	}
	decision, err := d.Decide(SetupRequest{To: "+15552223333", RecipientType: "number"})
	if err != nil {
		t.Fatal(err)
	}

	start := strings.Index(decision.Twiml, `<Transcription statusCallbackUrl="https://host.example/transcribe" track="inbound_track">`)
	dial := strings.Index(decision.Twiml, `<Dial answerOnBridge="true"`)
	if start < 0 || dial < 0 || start > dial {
		t.Fatalf("expected transcription start before dial: %s", decision.Twiml)
	}
}

func TestDecideConferenceTopology(t *testing.T) {
	cfg := testConfig(TopologyConference)
	cfg.PostDialURL = "https://host.example/post-dial"
	d, err := NewDecider(cfg)
	if err != nil {
		t.Fatal(err)
	}

	decision, err := d.Decide(SetupRequest{To: "bob", From: "client:alice", RecipientType: "client"})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !strings.Contains(decision.Twiml, "<Conference>GatherConferenceRoom</Conference>") {
		t.Errorf("caller leg not joined to conference: %s", decision.Twiml)
	}
	if !strings.Contains(decision.Twiml, `action="https://host.example/post-dial"`) {
		t.Errorf("dial action missing: %s", decision.Twiml)
	}
	if strings.Contains(decision.Twiml, "<Client>") {
		t.Errorf("conference topology should not dial the client directly: %s", decision.Twiml)
	}

	orig := decision.Originate
	if orig == nil {
		t.Fatal("expected origination for callee leg")
	}
	if orig.To != "client:bob" || orig.From != "client:alice" {
		t.Errorf("originate = %+v", orig)
	}
	if orig.StatusCallback != "https://host.example/call-status" {
		t.Errorf("StatusCallback = %q", orig.StatusCallback)
	}
	if !strings.Contains(orig.Twiml, "<Conference>GatherConferenceRoom</Conference>") {
		t.Errorf("callee twiml = %s", orig.Twiml)
	}
}

func TestDecideNumberWithoutCallerID(t *testing.T) {
	cfg := testConfig(TopologyDirect)
	cfg.CallerID = ""
	d, err := NewDecider(cfg)
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Decide(SetupRequest{To: "+15552223333", RecipientType: "number"})
	if err == nil || errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("error = %v, want configuration error", err)
	}
}
