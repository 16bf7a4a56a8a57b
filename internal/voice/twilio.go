package voice

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const maxTwilioResponse = 1 << 20

// TwilioGateway controls live calls and conferences through the Twilio
// REST API. Operations are not retried.
//
// Thread Safety:
// TwilioGateway is safe for concurrent use.
type TwilioGateway struct {
	accountSID   string
	authToken    string
	baseURL      string
	pauseSeconds int

	client *http.Client
}

// TwilioConfig holds configuration for the Twilio gateway.
type TwilioConfig struct {
	// AccountSID is the Twilio account SID (required)
	AccountSID string

	// AuthToken is the Twilio auth token (required)
	AuthToken string

	// BaseURL is the API root without the account path.
	// Default: "https://api.twilio.com/2010-04-01"
	BaseURL string

	// PauseSeconds is appended after audio played into a single call leg.
	PauseSeconds int

	// Timeout bounds each REST request.
	// Default: 30s
	Timeout time.Duration

	HTTPClient *http.Client
}

// NewTwilioGateway creates a new Twilio gateway.
func NewTwilioGateway(cfg TwilioConfig) (*TwilioGateway, error) {
	if cfg.AccountSID == "" {
		return nil, errors.New("twilio: account SID is required")
	}
	if cfg.AuthToken == "" {
		return nil, errors.New("twilio: auth token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com/2010-04-01"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &TwilioGateway{
		accountSID:   cfg.AccountSID,
		authToken:    cfg.AuthToken,
		baseURL:      fmt.Sprintf("%s/Accounts/%s", strings.TrimRight(cfg.BaseURL, "/"), cfg.AccountSID),
		pauseSeconds: cfg.PauseSeconds,
		client:       client,
	}, nil
}

// PlayInCall replaces the call's current instructions with playback of
// audioURL.
func (g *TwilioGateway) PlayInCall(ctx context.Context, callSID, audioURL string) error {
	twiml, err := NewResponse().Play(audioURL).Pause(g.pauseSeconds).Render()
	if err != nil {
		return err
	}
	params := url.Values{"Twiml": {twiml}}
	_, err = g.apiRequest(ctx, "play_in_call", http.MethodPost, "/Calls/"+url.PathEscape(callSID)+".json", params)
	return err
}

// PlayInConference announces audioURL to every participant of a conference.
func (g *TwilioGateway) PlayInConference(ctx context.Context, conferenceSID, audioURL string) error {
	params := url.Values{"AnnounceUrl": {audioURL}}
	_, err := g.apiRequest(ctx, "play_in_conference", http.MethodPost, "/Conferences/"+url.PathEscape(conferenceSID)+".json", params)
	return err
}

// FindConferenceByName returns the first in-progress conference with the
// given friendly name, or ErrConferenceNotFound.
func (g *TwilioGateway) FindConferenceByName(ctx context.Context, name string) (*Conference, error) {
	query := url.Values{
		"Status":       {"in-progress"},
		"FriendlyName": {name},
	}
	body, err := g.apiRequest(ctx, "find_conference", http.MethodGet, "/Conferences.json", query)
	if err != nil {
		return nil, err
	}

	var result struct {
		Conferences []Conference `json:"conferences"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &UpstreamTelephonyError{Op: "find_conference", Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	for _, c := range result.Conferences {
		if c.FriendlyName == name {
			conf := c
			return &conf, nil
		}
	}
	return nil, ErrConferenceNotFound
}

// ListParticipants returns the participants of a conference.
func (g *TwilioGateway) ListParticipants(ctx context.Context, conferenceSID string) ([]Participant, error) {
	body, err := g.apiRequest(ctx, "list_participants", http.MethodGet, "/Conferences/"+url.PathEscape(conferenceSID)+"/Participants.json", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Participants []Participant `json:"participants"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &UpstreamTelephonyError{Op: "list_participants", Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return result.Participants, nil
}

// OriginateCall places an outbound call that runs input.Twiml on answer and
// returns the new call SID.
func (g *TwilioGateway) OriginateCall(ctx context.Context, input OriginateInput) (string, error) {
	if input.To == "" || input.From == "" {
		return "", errors.New("twilio: originate requires to and from")
	}
	params := url.Values{
		"To":    {input.To},
		"From":  {input.From},
		"Twiml": {input.Twiml},
	}
	if input.StatusCallback != "" {
		params.Set("StatusCallback", input.StatusCallback)
		params["StatusCallbackEvent"] = []string{"initiated", "ringing", "answered", "completed"}
	}

	body, err := g.apiRequest(ctx, "originate_call", http.MethodPost, "/Calls.json", params)
	if err != nil {
		return "", err
	}

	var result struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &UpstreamTelephonyError{Op: "originate_call", Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return result.SID, nil
}

// HangupCall ends a call. A call that no longer exists is not an error.
func (g *TwilioGateway) HangupCall(ctx context.Context, callSID string) error {
	params := url.Values{"Status": {"completed"}}
	_, err := g.apiRequest(ctx, "hangup_call", http.MethodPost, "/Calls/"+url.PathEscape(callSID)+".json", params)

	var upstream *UpstreamTelephonyError
	if errors.As(err, &upstream) && upstream.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// VerifyWebhook validates an X-Twilio-Signature header. fullURL is the
// exact URL Twilio requested, including any query string.
func (g *TwilioGateway) VerifyWebhook(fullURL string, form url.Values, signature string) bool {
	return VerifySignature(g.authToken, fullURL, form, signature)
}

// VerifySignature computes Twilio's HMAC-SHA1 over the URL followed by the
// sorted POST parameters and compares it to signature.
func VerifySignature(authToken, fullURL string, form url.Values, signature string) bool {
	if signature == "" || authToken == "" {
		return false
	}

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

// apiRequest makes an authenticated request to the Twilio API. GET requests
// carry params in the query string, POSTs as a form body.
func (g *TwilioGateway) apiRequest(ctx context.Context, op, method, endpoint string, params url.Values) ([]byte, error) {
	reqURL := g.baseURL + endpoint

	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, &UpstreamTelephonyError{Op: op, Err: err}
	}
	req.SetBasicAuth(g.accountSID, g.authToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &UpstreamTelephonyError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTwilioResponse+1))
	if err != nil {
		return nil, &UpstreamTelephonyError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if len(data) > maxTwilioResponse {
		return nil, &UpstreamTelephonyError{Op: op, StatusCode: resp.StatusCode, Message: fmt.Sprintf("response too large (%d bytes)", len(data))}
	}

	if resp.StatusCode >= 400 {
		upstream := &UpstreamTelephonyError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			upstream.Code = apiErr.Code
			upstream.Message = apiErr.Message
		}
		return nil, upstream
	}

	return data, nil
}
