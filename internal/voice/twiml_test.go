package voice

import (
	"encoding/xml"
	"strings"
	"testing"
)

func TestResponseRender(t *testing.T) {
	tests := []struct {
		name string
		doc  *Response
		want string
	}{
		{
			name: "empty",
			doc:  NewResponse(),
			want: `<Response></Response>`,
		},
		{
			name: "play then pause",
			doc:  NewResponse().Play("https://example.com/voice.mp3").Pause(2),
			want: `<Response><Play>https://example.com/voice.mp3</Play><Pause length="2"></Pause></Response>`,
		},
		{
			name: "zero pause skipped",
			doc:  NewResponse().Play("https://example.com/voice.mp3").Pause(0),
			want: `<Response><Play>https://example.com/voice.mp3</Play></Response>`,
		},
		{
			name: "gather",
			doc:  NewResponse().Gather(Gather{Input: "speech", Action: "/gather-response", Timeout: 2}),
			want: `<Response><Gather input="speech" action="/gather-response" timeout="2"></Gather></Response>`,
		},
		{
			name: "hangup",
			doc:  NewResponse().Hangup(),
			want: `<Response><Hangup></Hangup></Response>`,
		},
		{
			name: "transcription and dial client",
			doc: NewResponse().
				StartTranscription("https://host/transcribe", "inbound_track").
				Dial(Dial{AnswerOnBridge: true, CallerID: "client:alice", Nouns: []any{DialClient{Identity: "bob"}}}),
			want: `<Response><Start><Transcription statusCallbackUrl="https://host/transcribe" track="inbound_track"></Transcription></Start>` +
				`<Dial answerOnBridge="true" callerId="client:alice"><Client>bob</Client></Dial></Response>`,
		},
		{
			name: "dial conference",
			doc:  NewResponse().Dial(Dial{Action: "/post-dial", Nouns: []any{DialConference{Name: "Room"}}}),
			want: `<Response><Dial action="/post-dial"><Conference>Room</Conference></Dial></Response>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.doc.Render()
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if !strings.HasPrefix(got, xml.Header) {
				t.Fatalf("missing xml header: %q", got)
			}
			if body := strings.TrimPrefix(got, xml.Header); body != tt.want {
				t.Errorf("Render() =\n%s\nwant\n%s", body, tt.want)
			}
		})
	}
}

func TestResponseEscapesContent(t *testing.T) {
	out := NewResponse().Play("https://example.com/a.mp3?x=1&y=<2>").String()
	if strings.Contains(out, "&y=<2>") {
		t.Fatalf("content not escaped: %s", out)
	}
	if !strings.Contains(out, "x=1&amp;y=&lt;2&gt;") {
		t.Fatalf("expected escaped url, got %s", out)
	}
}

func TestResponseRoundTripsThroughParser(t *testing.T) {
	out := NewResponse().
		Dial(Dial{CallerID: "+15550001111", Nouns: []any{DialNumber{Number: "+15552223333"}}}).
		String()

	var parsed struct {
		Dial struct {
			CallerID string `xml:"callerId,attr"`
			Number   string `xml:"Number"`
		} `xml:"Dial"`
	}
	if err := xml.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.Dial.CallerID != "+15550001111" || parsed.Dial.Number != "+15552223333" {
		t.Fatalf("parsed = %+v", parsed)
	}
}
