package verification_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-orders/internal/apperr"
	"ms-orders/internal/config"
	"ms-orders/internal/kvstore"
	"ms-orders/internal/logger"
	"ms-orders/internal/mailer"
	"ms-orders/internal/models"
	"ms-orders/internal/session"
	"ms-orders/internal/verification"
)

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, msg mailer.Message) (mailer.SendResult, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(mailer.SendResult), args.Error(1)
}

type MockSMS struct {
	mock.Mock
}

func (m *MockSMS) Send(ctx context.Context, phone, message string) error {
	args := m.Called(ctx, phone, message)
	return args.Error(0)
}

type MockUsers struct {
	mock.Mock
}

func (m *MockUsers) FindOrCreate(ctx context.Context, email, phone string) (*models.User, error) {
	args := m.Called(ctx, email, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	engine *verification.Engine
	mail   *MockMailer
	sms    *MockSMS
	users  *MockUsers
	clock  *fakeClock
	codes  []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	kv := kvstore.NewMemoryStore().WithClock(clock.Now)

	f := &fixture{
		mail:  new(MockMailer),
		sms:   new(MockSMS),
		users: new(MockUsers),
		clock: clock,
	}

	cfg := config.VerificationConfig{
		EmailCodeTTL:   10 * time.Minute,
		MobileCodeTTL:  5 * time.Minute,
		ResendCooldown: time.Minute,
		MaxAttempts:    5,
	}
	f.engine = verification.NewEngine(
		verification.NewCodeStore(kv).WithClock(clock.Now),
		f.mail, f.sms, f.users,
		session.NewStore(kv, session.DefaultTTL).WithClock(clock.Now),
		cfg, logger.Discard(),
	)
	f.engine.SetCodeGenerator(func() (string, error) {
		code := "123456"
		if len(f.codes) > 0 {
			code, f.codes = f.codes[0], f.codes[1:]
		}
		return code, nil
	})
	return f
}

func (f *fixture) expectEmail() {
	f.mail.On("Send", mock.Anything, mock.AnythingOfType("mailer.Message")).Return(mailer.SendResult{MessageID: "m1"}, nil)
}

func TestRequestCode_EmailDispatch(t *testing.T) {
	f := newFixture(t)
	f.expectEmail()

	res, err := f.engine.RequestCode(context.Background(), " Buyer@Example.com ")
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, verification.ChannelEmail, res.Channel)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), res.ExpiresAt)

	msg := f.mail.Calls[0].Arguments.Get(1).(mailer.Message)
	assert.Equal(t, "buyer@example.com", msg.To)
	assert.Contains(t, msg.HTML, "123456")
}

func TestRequestCode_MobileDispatch(t *testing.T) {
	f := newFixture(t)
	f.sms.On("Send", mock.Anything, "+14155550123", mock.MatchedBy(func(body string) bool {
		return assert.Contains(t, body, "123456") && assert.Contains(t, body, "5 minutes")
	})).Return(nil)

	res, err := f.engine.RequestCode(context.Background(), "+1 (415) 555-0123")
	require.NoError(t, err)
	assert.Equal(t, verification.ChannelMobile, res.Channel)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), res.ExpiresAt)
	f.sms.AssertExpectations(t)
}

func TestRequestCode_TooSoonThenOverwrites(t *testing.T) {
	f := newFixture(t)
	f.expectEmail()
	f.codes = []string{"111111", "222222"}
	ctx := context.Background()

	_, err := f.engine.RequestCode(ctx, "buyer@example.com")
	require.NoError(t, err)

	f.clock.Advance(20 * time.Second)
	_, err = f.engine.RequestCode(ctx, "buyer@example.com")
	var tooSoon *apperr.TooSoonError
	require.True(t, errors.As(err, &tooSoon))
	assert.Equal(t, 40*time.Second, tooSoon.RetryAfter)

	f.clock.Advance(time.Minute)
	_, err = f.engine.RequestCode(ctx, "buyer@example.com")
	require.NoError(t, err)

	// The first code is no longer valid.
	_, err = f.engine.VerifyCode(ctx, "buyer@example.com", "111111")
	assert.True(t, errors.Is(err, apperr.ErrInvalidCode))
	_, err = f.engine.VerifyCode(ctx, "buyer@example.com", "222222")
	assert.NoError(t, err)
}

func TestRequestCode_DispatchFailureRevokesCode(t *testing.T) {
	f := newFixture(t)
	f.mail.On("Send", mock.Anything, mock.Anything).Return(mailer.SendResult{}, &mailer.SendError{Provider: "http", StatusCode: 503}).Once()
	ctx := context.Background()

	_, err := f.engine.RequestCode(ctx, "buyer@example.com")
	assert.True(t, errors.Is(err, apperr.ErrExternalService))

	_, err = f.engine.VerifyCode(ctx, "buyer@example.com", "123456")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	// No cooldown applies to a code that was never delivered.
	f.expectEmail()
	_, err = f.engine.RequestCode(ctx, "buyer@example.com")
	assert.NoError(t, err)
}

func TestRequestCode_InvalidIdentifier(t *testing.T) {
	f := newFixture(t)
	for _, raw := range []string{"", "not-a-number", "12", "a@"} {
		_, err := f.engine.RequestCode(context.Background(), raw)
		assert.True(t, errors.Is(err, apperr.ErrValidation), raw)
	}
	f.mail.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestVerifyCode_SucceedsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.expectEmail()
	ctx := context.Background()

	_, err := f.engine.RequestCode(ctx, "buyer@example.com")
	require.NoError(t, err)

	id, err := f.engine.VerifyCode(ctx, "buyer@example.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", id.Value)

	_, err = f.engine.VerifyCode(ctx, "buyer@example.com", "123456")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestVerifyCode_LocksAfterFiveWrongAttempts(t *testing.T) {
	f := newFixture(t)
	f.expectEmail()
	ctx := context.Background()

	_, err := f.engine.RequestCode(ctx, "buyer@example.com")
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err := f.engine.VerifyCode(ctx, "buyer@example.com", "000000")
		var invalid *apperr.InvalidCodeError
		require.True(t, errors.As(err, &invalid), "attempt %d", i)
		assert.Equal(t, 5-i, invalid.Remaining)
	}

	_, err = f.engine.VerifyCode(ctx, "buyer@example.com", "123456")
	assert.True(t, errors.Is(err, apperr.ErrTooManyAttempts))

	// Purged.
	_, err = f.engine.VerifyCode(ctx, "buyer@example.com", "123456")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestVerifyCode_Expired(t *testing.T) {
	f := newFixture(t)
	f.sms.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	_, err := f.engine.RequestCode(ctx, "+14155550123")
	require.NoError(t, err)

	f.clock.Advance(5*time.Minute + time.Second)
	_, err = f.engine.VerifyCode(ctx, "+14155550123", "123456")
	assert.True(t, errors.Is(err, apperr.ErrExpired))

	_, err = f.engine.VerifyCode(ctx, "+14155550123", "123456")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestVerifyCode_ConcurrentCorrectSubmissionsSucceedOnce(t *testing.T) {
	f := newFixture(t)
	f.expectEmail()
	ctx := context.Background()

	_, err := f.engine.RequestCode(ctx, "buyer@example.com")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.VerifyCode(ctx, "buyer@example.com", "123456"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestLogin_IssuesSession(t *testing.T) {
	f := newFixture(t)
	f.expectEmail()
	ctx := context.Background()

	user := &models.User{ID: "u1", Email: "buyer@example.com", Role: models.RoleUser}
	f.users.On("FindOrCreate", mock.Anything, "buyer@example.com", "").Return(user, nil)

	_, err := f.engine.RequestCode(ctx, "buyer@example.com")
	require.NoError(t, err)

	res, err := f.engine.Login(ctx, "buyer@example.com", "123456")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "u1", res.Session.UserID)
	assert.Equal(t, models.RoleUser, res.Session.Role)
	assert.Equal(t, f.clock.Now().Add(session.DefaultTTL), res.Session.ExpiresAt)
	f.users.AssertExpectations(t)
}

func TestLogin_WrongCodeDoesNotTouchUsers(t *testing.T) {
	f := newFixture(t)
	f.expectEmail()
	ctx := context.Background()

	_, err := f.engine.RequestCode(ctx, "buyer@example.com")
	require.NoError(t, err)

	_, err = f.engine.Login(ctx, "buyer@example.com", "999999")
	assert.True(t, errors.Is(err, apperr.ErrInvalidCode))
	f.users.AssertNotCalled(t, "FindOrCreate", mock.Anything, mock.Anything, mock.Anything)
}
