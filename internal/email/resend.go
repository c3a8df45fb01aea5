package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"channelscope/internal/models"
)

var (
	ErrNotConfigured = errors.New("email service not configured")
	ErrSendFailed    = errors.New("failed to send email")
)

// ResendClient sends transactional notices through the Resend API.
type ResendClient struct {
	apiKey    string
	fromEmail string
	client    *http.Client
}

func NewResendClient(apiKey, fromEmail string) *ResendClient {
	return &ResendClient{
		apiKey:    apiKey,
		fromEmail: fromEmail,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// IsConfigured reports whether the client has credentials to send with.
func (c *ResendClient) IsConfigured() bool {
	return c.apiKey != "" && c.fromEmail != ""
}

type sendEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (c *ResendClient) send(ctx context.Context, to, subject, htmlContent string) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	reqBody := sendEmailRequest{
		From:    c.fromEmail,
		To:      []string{to},
		Subject: subject,
		HTML:    htmlContent,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.resend.com/emails", bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: status code %d", ErrSendFailed, resp.StatusCode)
	}

	return nil
}

// PaymentFailed tells the account holder a charge did not go through.
func (c *ResendClient) PaymentFailed(ctx context.Context, acct models.Account) error {
	subject := "Payment failed for your ChannelScope subscription"
	body := notice(
		"Payment failed",
		fmt.Sprintf("Hi %s, we could not process the latest payment for your %s plan.", acct.Username, planLabel(acct.PlanTier)),
		"Your access is unchanged for now. Please update your payment method to avoid interruption.",
	)
	return c.send(ctx, acct.Email, subject, body)
}

// RenewalUpcoming reminds the account holder that the next charge is near.
func (c *ResendClient) RenewalUpcoming(ctx context.Context, acct models.Account) error {
	subject := "Your ChannelScope subscription renews soon"
	detail := "Your subscription renews soon."
	if acct.PeriodEnd != nil {
		detail = fmt.Sprintf("Your subscription renews on %s.", acct.PeriodEnd.Format("January 2, 2006"))
	}
	body := notice(
		"Renewal reminder",
		fmt.Sprintf("Hi %s, thanks for being a %s subscriber.", acct.Username, planLabel(acct.PlanTier)),
		detail+" No action is needed if you would like to continue.",
	)
	return c.send(ctx, acct.Email, subject, body)
}

func planLabel(t models.Tier) string {
	switch t {
	case models.TierMonthly:
		return "Monthly"
	case models.TierYearly:
		return "Yearly"
	case models.TierLifetime:
		return "Lifetime"
	default:
		return "Free"
	}
}

func notice(title, greeting, detail string) string {
	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s</title>
</head>
<body style="margin: 0; padding: 0; font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; background-color: #f4f4f4;">
    <table role="presentation" style="width: 100%%; border-collapse: collapse;">
        <tr>
            <td align="center" style="padding: 40px 0;">
                <table role="presentation" style="width: 600px; border-collapse: collapse; background-color: #ffffff; border-radius: 8px; box-shadow: 0 2px 8px rgba(0,0,0,0.1);">
                    <tr>
                        <td style="padding: 40px 40px 20px 40px; text-align: center;">
                            <h1 style="margin: 0; color: #333333; font-size: 24px; font-weight: 600;">%s</h1>
                        </td>
                    </tr>
                    <tr>
                        <td style="padding: 0 40px 20px 40px; text-align: center;">
                            <p style="margin: 0; color: #666666; font-size: 16px; line-height: 1.5;">%s</p>
                        </td>
                    </tr>
                    <tr>
                        <td style="padding: 0 40px 40px 40px; text-align: center;">
                            <p style="margin: 0; color: #999999; font-size: 14px;">%s</p>
                        </td>
                    </tr>
                </table>
            </td>
        </tr>
    </table>
</body>
</html>
`, title, title, greeting, detail)
}
