package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// TwilioProvider sends messages through the Twilio Messages API.
type TwilioProvider struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	client     *http.Client
}

func NewTwilioProvider(baseURL, accountSID, authToken, from string, client *http.Client) *TwilioProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &TwilioProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		client:     client,
	}
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *TwilioProvider) Send(ctx context.Context, phoneNumber, message string) error {
	form := url.Values{}
	form.Set("To", phoneNumber)
	form.Set("From", p.from)
	form.Set("Body", message)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.baseURL, url.PathEscape(p.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return &SendError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	var twErr twilioError
	if json.Unmarshal(body, &twErr) != nil || twErr.Message == "" {
		twErr.Message = strings.TrimSpace(string(body))
	}
	return &SendError{StatusCode: resp.StatusCode, Code: twErr.Code, Message: twErr.Message}
}
