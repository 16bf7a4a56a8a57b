package conversation

import (
	"sync"
	"testing"
)

func TestParseFragment(t *testing.T) {
	tests := []struct {
		name    string
		ev      TranscriptionEvent
		want    Fragment
		wantErr bool
	}{
		{
			name: "final content",
			ev: TranscriptionEvent{
				TranscriptionSID: "GT1",
				CallSID:          "CA1",
				SequenceID:       "4",
				Final:            "true",
				Data:             `{"transcript":" what's the weather ","confidence":0.93}`,
			},
			want: Fragment{StreamSID: "GT1", CallSID: "CA1", Sequence: 4, Text: "what's the weather", Confidence: 0.93, Final: true},
		},
		{
			name: "false string is not final",
			ev:   TranscriptionEvent{SequenceID: "2", Final: "false", Data: `{"transcript":"hi"}`},
			want: Fragment{Sequence: 2, Text: "hi"},
		},
		{
			name: "missing data",
			ev:   TranscriptionEvent{SequenceID: "1", Final: "True"},
			want: Fragment{Sequence: 1, Final: true},
		},
		{
			name:    "bad sequence",
			ev:      TranscriptionEvent{SequenceID: "four"},
			wantErr: true,
		},
		{
			name:    "bad data",
			ev:      TranscriptionEvent{SequenceID: "1", Data: "{not json"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFragment(tt.ev)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFragment() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseFragment() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSequencer(t *testing.T) {
	s := NewSequencer()

	a := s.Next("conference:Room")
	b := s.Next("conference:Room")
	other := s.Next("call:CA1")

	if s.IsCurrent("conference:Room", a) {
		t.Error("superseded token reported current")
	}
	if !s.IsCurrent("conference:Room", b) || !s.IsCurrent("call:CA1", other) {
		t.Error("newest tokens should be current")
	}

	s.Release("conference:Room", a)
	if !s.IsCurrent("conference:Room", b) {
		t.Error("releasing an old token dropped the newest")
	}

	s.Release("conference:Room", b)
	c := s.Next("conference:Room")
	if c == a || c == b {
		t.Fatalf("token %d reissued after release", c)
	}
	if s.IsCurrent("conference:Room", a) {
		t.Error("old token became current again")
	}
}

func TestVoiceSelection(t *testing.T) {
	v := NewVoiceSelection("initial")
	if v.Current() != "initial" {
		t.Fatalf("Current() = %q", v.Current())
	}
	if err := v.Set(" "); err == nil {
		t.Fatal("expected error for empty voice id")
	}
	if err := v.Set("voice-2"); err != nil {
		t.Fatal(err)
	}
	if v.Current() != "voice-2" {
		t.Fatalf("Current() = %q, want voice-2", v.Current())
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _ = v.Set("voice-3") }()
		go func() { defer wg.Done(); _ = v.Current() }()
	}
	wg.Wait()
}
