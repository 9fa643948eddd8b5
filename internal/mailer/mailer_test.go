package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider_Send(t *testing.T) {
	var got emailRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_123"}`))
	}))
	defer server.Close()

	p := NewHTTPProvider(server.URL+"/", "re_test", "Orders <orders@example.com>", server.Client())
	res, err := p.Send(context.Background(), Message{
		To:      "buyer@example.com",
		Subject: "Your order",
		HTML:    "<p>hi</p>",
		Tags:    map[string]string{"type": "confirmation", "order": "ORD-1"},
	})

	require.NoError(t, err)
	assert.Equal(t, "msg_123", res.MessageID)
	assert.Equal(t, []string{"buyer@example.com"}, got.To)
	assert.Equal(t, []emailTag{{Name: "order", Value: "ORD-1"}, {Name: "type", Value: "confirmation"}}, got.Tags)
}

func TestHTTPProvider_ErrorStatusesAreClassified(t *testing.T) {
	tests := []struct {
		status    int
		temporary bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusUnprocessableEntity, false},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"message":"nope"}`))
			}))
			defer server.Close()

			_, err := NewHTTPProvider(server.URL, "k", "a@b.co", nil).Send(context.Background(), Message{To: "x@y.z"})

			var sendErr *SendError
			require.True(t, errors.As(err, &sendErr))
			assert.Equal(t, tt.status, sendErr.StatusCode)
			assert.Equal(t, "nope", sendErr.Message)
			assert.Equal(t, tt.temporary, sendErr.Temporary())
		})
	}
}

func TestHTTPProvider_NetworkFailureIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewHTTPProvider(url, "k", "a@b.co", nil).Send(context.Background(), Message{To: "x@y.z"})

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.True(t, sendErr.Temporary())
}

func TestSMTPProvider_Send(t *testing.T) {
	p := NewSMTPProvider("smtp.example.com", "587", "user", "pass", "Orders <orders@example.com>")

	var raw string
	p.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		assert.Equal(t, "smtp.example.com:587", addr)
		assert.Equal(t, "orders@example.com", from)
		assert.Equal(t, []string{"buyer@example.com"}, to)
		raw = string(msg)
		return nil
	}

	res, err := p.Send(context.Background(), Message{To: "buyer@example.com", Subject: "Shipped", HTML: "<b>on its way</b>", Tags: map[string]string{"type": "shipped"}})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.MessageID, "@example.com"))
	assert.Contains(t, raw, "Message-ID: <"+res.MessageID+">")
	assert.Contains(t, raw, "X-Tag-Type: shipped")
	assert.Contains(t, raw, "<b>on its way</b>")
}

func TestSMTPProvider_ReplyCodes(t *testing.T) {
	p := NewSMTPProvider("smtp.example.com", "587", "", "", "orders@example.com")

	p.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return &textproto.Error{Code: 451, Msg: "try again later"}
	}
	_, err := p.Send(context.Background(), Message{To: "a@b.co"})
	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.True(t, sendErr.Temporary())

	p.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return &textproto.Error{Code: 550, Msg: "mailbox unavailable"}
	}
	_, err = p.Send(context.Background(), Message{To: "a@b.co"})
	require.True(t, errors.As(err, &sendErr))
	assert.False(t, sendErr.Temporary())
}
