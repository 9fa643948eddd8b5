package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// HTTPProvider talks to a Resend-compatible JSON email API.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	from    string
	client  *http.Client
}

func NewHTTPProvider(baseURL, apiKey, from string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		from:    from,
		client:  client,
	}
}

type emailTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type emailRequest struct {
	From    string     `json:"from"`
	To      []string   `json:"to"`
	Subject string     `json:"subject"`
	HTML    string     `json:"html"`
	Tags    []emailTag `json:"tags,omitempty"`
}

type emailResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (p *HTTPProvider) Send(ctx context.Context, msg Message) (SendResult, error) {
	reqBody := emailRequest{
		From:    p.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	}
	for name, value := range msg.Tags {
		reqBody.Tags = append(reqBody.Tags, emailTag{Name: name, Value: value})
	}
	sort.Slice(reqBody.Tags, func(i, j int) bool { return reqBody.Tags[i].Name < reqBody.Tags[j].Name })

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return SendResult{}, fmt.Errorf("marshal email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return SendResult{}, &SendError{Provider: "http", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var parsed emailResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode >= 300 {
		message := parsed.Message
		if message == "" {
			message = strings.TrimSpace(string(body))
		}
		return SendResult{}, &SendError{Provider: "http", StatusCode: resp.StatusCode, Message: message}
	}

	if parsed.ID == "" {
		return SendResult{}, &SendError{Provider: "http", StatusCode: resp.StatusCode, Message: "response carried no message id"}
	}

	return SendResult{MessageID: parsed.ID}, nil
}
