package verification

import (
	"net/mail"
	"regexp"
	"strings"

	"ms-orders/internal/apperr"
)

type Channel string

const (
	ChannelEmail  Channel = "email"
	ChannelMobile Channel = "mobile"
)

// Identifier is a normalised email address or phone number.
type Identifier struct {
	Channel Channel
	Value   string
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// NormalizeIdentifier decides the channel from the raw input. Emails are
// lower-cased; phone numbers lose spaces, dashes, dots and parentheses.
func NormalizeIdentifier(raw string) (Identifier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identifier{}, apperr.Validation("identifier is required")
	}

	if strings.Contains(raw, "@") {
		addr, err := mail.ParseAddress(raw)
		if err != nil || addr.Address != raw {
			return Identifier{}, apperr.Validation("invalid email address")
		}
		return Identifier{Channel: ChannelEmail, Value: strings.ToLower(addr.Address)}, nil
	}

	phone := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, raw)
	if !phonePattern.MatchString(phone) {
		return Identifier{}, apperr.Validation("invalid phone number")
	}
	return Identifier{Channel: ChannelMobile, Value: phone}, nil
}
