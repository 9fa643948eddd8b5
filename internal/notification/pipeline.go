// Package notification sends the lifecycle emails of an order and records
// the outcome of every send on the order itself.
package notification

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ms-orders/internal/apperr"
	"ms-orders/internal/config"
	"ms-orders/internal/logger"
	"ms-orders/internal/mailer"
	"ms-orders/internal/metrics"
	"ms-orders/internal/models"
)

// OrderStore is the part of the order ledger the pipeline writes to.
type OrderStore interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	RecordEmail(ctx context.Context, id string, emailType models.EmailType, record models.EmailRecord) (*models.Order, error)
}

type Pipeline struct {
	Provider  mailer.Provider
	Orders    OrderStore
	Policy    RetryPolicy
	PublicURL string
	Logger    *logger.Logger
	now       func() time.Time
}

func NewPipeline(provider mailer.Provider, orders OrderStore, cfg config.NotificationConfig, publicURL string, log *logger.Logger) *Pipeline {
	return &Pipeline{
		Provider:  provider,
		Orders:    orders,
		Policy:    PolicyFromConfig(cfg),
		PublicURL: publicURL,
		Logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// TrackingURL is the customer-facing page of an order.
func (p *Pipeline) TrackingURL(order *models.Order) string {
	return p.PublicURL + "/orders/" + order.OrderNumber
}

// SendLifecycleEmails → confirmation and receipt for a freshly confirmed order
func (p *Pipeline) SendLifecycleEmails(ctx context.Context, order *models.Order) models.EmailsSent {
	sent := models.EmailsSent{}
	for _, t := range []models.EmailType{models.EmailConfirmation, models.EmailReceipt} {
		sent[t] = p.send(ctx, order, t)
	}
	return sent
}

// SendStatusEmail → the production, shipped or delivered notice
func (p *Pipeline) SendStatusEmail(ctx context.Context, order *models.Order, emailType models.EmailType) models.EmailRecord {
	return p.send(ctx, order, emailType)
}

var reachedBy = map[models.EmailType][]models.OrderStatus{
	models.EmailConfirmation: {models.OrderConfirmed, models.OrderProduction, models.OrderShipped, models.OrderDelivered},
	models.EmailReceipt:      {models.OrderConfirmed, models.OrderProduction, models.OrderShipped, models.OrderDelivered},
	models.EmailProduction:   {models.OrderProduction, models.OrderShipped, models.OrderDelivered},
	models.EmailShipped:      {models.OrderShipped, models.OrderDelivered},
	models.EmailDelivered:    {models.OrderDelivered},
}

// Resend → manual resend of one email, allowed once the order has reached the matching stage
func (p *Pipeline) Resend(ctx context.Context, orderID string, emailType models.EmailType) (models.EmailRecord, error) {
	if !emailType.Valid() {
		return models.EmailRecord{}, apperr.Validation("unknown email type %q", emailType)
	}
	order, err := p.Orders.Get(ctx, orderID)
	if err != nil {
		return models.EmailRecord{}, err
	}

	allowed := false
	for _, s := range reachedBy[emailType] {
		if order.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return models.EmailRecord{}, apperr.Validation("order %s is %s, %s email does not apply", order.OrderNumber, order.Status, emailType)
	}

	p.Logger.LogOrder("EMAIL_RESEND", order.ID, string(emailType))
	return p.send(ctx, order, emailType), nil
}

// send delivers one email under the retry policy and records the outcome,
// whatever it is, on the order.
func (p *Pipeline) send(ctx context.Context, order *models.Order, emailType models.EmailType) models.EmailRecord {
	record := models.EmailRecord{}

	subject, html, err := Render(emailType, order, p.TrackingURL(order))
	if err != nil {
		record.Error = err.Error()
		record.Timestamp = p.now()
		p.Logger.Error("EMAIL", fmt.Sprintf("Order %s: %v", order.ID, err))
		return p.record(ctx, order, emailType, record)
	}

	msg := mailer.Message{
		To:      order.Email,
		Subject: subject,
		HTML:    html,
		Tags: map[string]string{
			"order_id":   order.ID,
			"email_type": string(emailType),
		},
	}

	var result mailer.SendResult
	attempts, err := p.Policy.Do(ctx, func() error {
		var sendErr error
		result, sendErr = p.Provider.Send(ctx, msg)
		return sendErr
	}, func(err error, wait time.Duration) {
		p.Logger.Warn("EMAIL", fmt.Sprintf("%s email for order %s failed (%v), retrying in %s", emailType, order.ID, err, wait))
	})

	record.Attempts = attempts
	record.Timestamp = p.now()
	metrics.EmailSendAttempts.WithLabelValues(string(emailType)).Observe(float64(attempts))
	if err != nil {
		record.Error = err.Error()
		metrics.EmailSendsTotal.WithLabelValues(string(emailType), Classify(err).String()).Inc()
		p.Logger.Error("EMAIL", fmt.Sprintf("%s email for order %s not sent after %d attempt(s): %v", emailType, order.ID, attempts, err))
	} else {
		record.Sent = true
		record.MessageID = result.MessageID
		metrics.EmailSendsTotal.WithLabelValues(string(emailType), "sent").Inc()
		p.Logger.LogOrder("EMAIL_SENT", order.ID, string(emailType)+" attempts="+strconv.Itoa(attempts))
	}
	return p.record(ctx, order, emailType, record)
}

func (p *Pipeline) record(ctx context.Context, order *models.Order, emailType models.EmailType, record models.EmailRecord) models.EmailRecord {
	// The send already happened; a cancelled request must not lose its trace.
	if _, err := p.Orders.RecordEmail(context.WithoutCancel(ctx), order.ID, emailType, record); err != nil {
		p.Logger.Error("EMAIL", fmt.Sprintf("Could not record %s email on order %s: %v", emailType, order.ID, err))
	}
	if order.EmailsSent == nil {
		order.EmailsSent = models.EmailsSent{}
	}
	order.EmailsSent[emailType] = record
	return record
}
