package sms_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-orders/internal/sms"
)

func TestTwilioProvider_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15551234567", r.PostForm.Get("To"))
		assert.Equal(t, "+15550000000", r.PostForm.Get("From"))
		assert.Equal(t, "Your code is 123456", r.PostForm.Get("Body"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM1"}`))
	}))
	defer server.Close()

	p := sms.NewTwilioProvider(server.URL, "AC123", "secret", "+15550000000", server.Client())
	require.NoError(t, p.Send(context.Background(), "+15551234567", "Your code is 123456"))
}

func TestTwilioProvider_RejectsInvalidNumber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number."}`))
	}))
	defer server.Close()

	err := sms.NewTwilioProvider(server.URL, "AC123", "secret", "+1", nil).Send(context.Background(), "+1", "x")

	var sendErr *sms.SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, http.StatusBadRequest, sendErr.StatusCode)
	assert.Equal(t, 21211, sendErr.Code)
}
