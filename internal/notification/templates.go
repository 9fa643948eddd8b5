package notification

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"ms-orders/internal/models"
)

var subjects = map[models.EmailType]string{
	models.EmailConfirmation: "Order %s confirmed",
	models.EmailReceipt:      "Receipt for order %s",
	models.EmailProduction:   "Order %s is in production",
	models.EmailShipped:      "Order %s has shipped",
	models.EmailDelivered:    "Order %s was delivered",
}

const layout = `<!DOCTYPE html>
<html><body style="font-family:Helvetica,Arial,sans-serif;color:#222;max-width:560px;margin:auto">
<h2>{{.Heading}}</h2>
<p>Hi {{.Order.CustomerName}},</p>
{{template "body" .}}
<p style="color:#888;font-size:12px">Order {{.Order.OrderNumber}} &middot; <a href="{{.TrackingURL}}">track your order</a></p>
</body></html>`

var bodies = map[models.EmailType]string{
	models.EmailConfirmation: `{{define "body"}}
<p>Thanks for your order. We have received your payment and will start on it shortly.</p>
<p>Total: <strong>{{.Total}}</strong></p>
<p>Ship to: {{.Order.ShippingAddress.Line1}}, {{.Order.ShippingAddress.City}} {{.Order.ShippingAddress.PostalCode}}, {{.Order.ShippingAddress.Country}}</p>
{{if .QRCode}}<p><img src="{{.QRCode}}" width="160" height="160" alt="Scan to track your order"></p>{{end}}
{{end}}`,
	models.EmailReceipt: `{{define "body"}}
<table cellpadding="4">
<tr><td>Subtotal</td><td align="right">{{.Money .Order.Pricing.Subtotal}}</td></tr>
{{if .Order.VoucherDiscount}}<tr><td>Voucher {{.Order.VoucherCode}}</td><td align="right">-{{.Money .Order.VoucherDiscount}}</td></tr>{{end}}
<tr><td>Shipping</td><td align="right">{{.Money .Order.Pricing.Shipping}}</td></tr>
<tr><td>Tax</td><td align="right">{{.Money .Order.Pricing.Tax}}</td></tr>
<tr><td><strong>Total</strong></td><td align="right"><strong>{{.Total}}</strong></td></tr>
</table>
{{if .Order.PaymentMethod}}<p>Paid by {{.Order.PaymentMethod}}.</p>{{end}}
{{end}}`,
	models.EmailProduction: `{{define "body"}}
<p>Your order is now being made.</p>
{{if .Order.EstimatedDelivery}}<p>Estimated delivery: {{.Order.EstimatedDelivery.Format "Mon, 02 Jan 2006"}}</p>{{end}}
{{end}}`,
	models.EmailShipped: `{{define "body"}}
<p>Your order is on its way.</p>
{{if .Order.TrackingNumber}}<p>Tracking number: {{.Order.TrackingNumber}}{{if .Order.TrackingURL}} (<a href="{{.Order.TrackingURL}}">carrier tracking</a>){{end}}</p>{{end}}
{{end}}`,
	models.EmailDelivered: `{{define "body"}}
<p>Your order has been delivered. We hope you love it.</p>
{{end}}`,
}

var templates = func() map[models.EmailType]*template.Template {
	out := make(map[models.EmailType]*template.Template, len(bodies))
	for t, body := range bodies {
		out[t] = template.Must(template.Must(template.New(string(t)).Parse(layout)).Parse(body))
	}
	return out
}()

type emailData struct {
	Heading     string
	Order       *models.Order
	TrackingURL string
	QRCode      template.URL
}

func (d emailData) Money(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2) + " " + strings.ToUpper(d.Order.Pricing.Currency)
}

func (d emailData) Total() string {
	return d.Money(d.Order.Pricing.Total)
}

// qrDataURI renders url as an inline PNG.
func qrDataURI(url string) (template.URL, error) {
	png, err := qrcode.Encode(url, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)), nil
}

// Render builds the subject and HTML body of one lifecycle email.
func Render(emailType models.EmailType, order *models.Order, trackingURL string) (string, string, error) {
	tmpl, ok := templates[emailType]
	if !ok {
		return "", "", fmt.Errorf("no template for email type %q", emailType)
	}

	subject := fmt.Sprintf(subjects[emailType], order.OrderNumber)
	data := emailData{Heading: subject, Order: order, TrackingURL: trackingURL}
	if emailType == models.EmailConfirmation {
		qr, err := qrDataURI(trackingURL)
		if err != nil {
			return "", "", fmt.Errorf("render tracking QR: %w", err)
		}
		data.QRCode = qr
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s email: %w", emailType, err)
	}
	return subject, buf.String(), nil
}
