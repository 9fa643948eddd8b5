package logger_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"ms-orders/internal/logger"
)

func TestLogger_RespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(logger.Options{Console: &buf, MinLevel: logger.WARN, NoColor: true})

	l.Info("ORDER", "created")
	l.Warn("ORDER", "slow insert")

	out := buf.String()
	assert.NotContains(t, out, "created")
	assert.Contains(t, out, "slow insert")
	assert.Contains(t, out, "[ORDER")
}

func TestLogger_VerificationHelperMasksIdentifier(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(logger.Options{Console: &buf, NoColor: true})

	l.LogVerification("REQUEST", "alice@example.com", "code issued")

	assert.Contains(t, buf.String(), "a***e@example.com")
	assert.NotContains(t, buf.String(), "alice@")
}

func TestMaskIdentifier(t *testing.T) {
	assert.Equal(t, "*******4567", logger.MaskIdentifier("+1555234567"))
	assert.Equal(t, "**@x.io", logger.MaskIdentifier("ab@x.io"))
	assert.Equal(t, "***", logger.MaskIdentifier("123"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logger.DEBUG, logger.ParseLevel("debug"))
	assert.Equal(t, logger.WARN, logger.ParseLevel("warning"))
	assert.Equal(t, logger.INFO, logger.ParseLevel(""))
}
