package voice

import (
	"encoding/xml"
	"fmt"
)

// Response is a TwiML instruction document. Verbs are rendered in the order
// they were appended.
//
// Usage:
//
//	doc := voice.NewResponse().
//	    Play("https://example.com/voice.mp3").
//	    Gather(voice.Gather{Input: "speech", Action: "/gather-response", Timeout: 2})
//	body := doc.String()
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Start begins an asynchronous process such as live transcription.
type Start struct {
	XMLName       xml.Name       `xml:"Start"`
	Transcription *Transcription `xml:"Transcription,omitempty"`
}

// Transcription starts real-time transcription of a call leg.
type Transcription struct {
	XMLName           xml.Name `xml:"Transcription"`
	StatusCallbackURL string   `xml:"statusCallbackUrl,attr"`
	Track             string   `xml:"track,attr,omitempty"`
}

// Dial bridges the current call to a client, number, or conference.
type Dial struct {
	XMLName        xml.Name `xml:"Dial"`
	AnswerOnBridge bool     `xml:"answerOnBridge,attr,omitempty"`
	CallerID       string   `xml:"callerId,attr,omitempty"`
	Action         string   `xml:"action,attr,omitempty"`
	Nouns          []any
}

// DialClient is a <Client> noun inside <Dial>.
type DialClient struct {
	XMLName  xml.Name `xml:"Client"`
	Identity string   `xml:",chardata"`
}

// DialNumber is a <Number> noun inside <Dial>.
type DialNumber struct {
	XMLName xml.Name `xml:"Number"`
	Number  string   `xml:",chardata"`
}

// DialConference is a <Conference> noun inside <Dial>.
type DialConference struct {
	XMLName             xml.Name `xml:"Conference"`
	EndConferenceOnExit bool     `xml:"endConferenceOnExit,attr,omitempty"`
	StatusCallback      string   `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent string   `xml:"statusCallbackEvent,attr,omitempty"`
	Name                string   `xml:",chardata"`
}

// Play plays an audio file by URL.
type Play struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

// Pause waits silently.
type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

// Gather collects caller input and posts it to Action.
type Gather struct {
	XMLName xml.Name `xml:"Gather"`
	Input   string   `xml:"input,attr,omitempty"`
	Action  string   `xml:"action,attr,omitempty"`
	Method  string   `xml:"method,attr,omitempty"`
	Timeout int      `xml:"timeout,attr,omitempty"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// NewResponse returns an empty document.
func NewResponse() *Response {
	return &Response{}
}

// Append adds verbs to the document.
func (r *Response) Append(verbs ...any) *Response {
	r.Verbs = append(r.Verbs, verbs...)
	return r
}

// StartTranscription appends <Start><Transcription/></Start>.
func (r *Response) StartTranscription(callbackURL, track string) *Response {
	return r.Append(Start{Transcription: &Transcription{StatusCallbackURL: callbackURL, Track: track}})
}

// Dial appends a <Dial> verb.
func (r *Response) Dial(d Dial) *Response {
	return r.Append(d)
}

// Play appends a <Play> verb.
func (r *Response) Play(url string) *Response {
	return r.Append(Play{URL: url})
}

// Pause appends a <Pause> verb. Non-positive lengths are skipped.
func (r *Response) Pause(seconds int) *Response {
	if seconds <= 0 {
		return r
	}
	return r.Append(Pause{Length: seconds})
}

// Gather appends a <Gather> verb.
func (r *Response) Gather(g Gather) *Response {
	return r.Append(g)
}

// Hangup appends a <Hangup/> verb.
func (r *Response) Hangup() *Response {
	return r.Append(Hangup{})
}

// Render encodes the document with the XML header.
func (r *Response) Render() (string, error) {
	out, err := xml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("voice: failed to render twiml: %w", err)
	}
	return xml.Header + string(out), nil
}

// String renders the document. Encoding only fails for unsupported verb
// types, in which case an empty response is returned.
func (r *Response) String() string {
	out, err := r.Render()
	if err != nil {
		return xml.Header + "<Response></Response>"
	}
	return out
}
