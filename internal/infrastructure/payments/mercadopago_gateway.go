package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"shop_payments/internal/domain/entities"
	"shop_payments/internal/usecase/interfaces"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
	"github.com/mercadopago/sdk-go/pkg/refund"
	"github.com/shopspring/decimal"
)

var ErrMissingMercadoPagoAccessToken = errors.New("missing MERCADOPAGO_ACCESS_TOKEN")
var ErrMissingWebhookSecret = errors.New("missing PAYMENT_WEBHOOK_SECRET")

const defaultCallTimeout = 10 * time.Second

// defaultSessionTTL bounds how long a hosted checkout stays payable.
const defaultSessionTTL = 24 * time.Hour

// MercadoPagoGateway adapts Mercado Pago hosted checkout (preferences) to
// the core's gateway contract. It is the only component that reaches the
// network, and every outbound call carries a bounded timeout.
//
// Unit conversion: the provider wire speaks minor currency units (cents);
// this adapter owns the only conversion to and from the core's major-unit
// decimals, rounding half-up.

type MercadoPagoGateway struct {
	preferences preference.Client
	payments    payment.Client
	refunds     refund.Client

	webhookSecret []byte
	callTimeout   time.Duration
	sessionTTL    time.Duration
}

var _ interfaces.IPaymentGateway = (*MercadoPagoGateway)(nil)

func NewMercadoPagoGateway(accessToken, webhookSecret string) (*MercadoPagoGateway, error) {
	if accessToken == "" {
		log.Printf("[payment][gateway] missing MERCADOPAGO_ACCESS_TOKEN")
		return nil, ErrMissingMercadoPagoAccessToken
	}
	if webhookSecret == "" {
		log.Printf("[payment][gateway] missing PAYMENT_WEBHOOK_SECRET")
		return nil, ErrMissingWebhookSecret
	}

	cfg, err := config.New(accessToken)
	if err != nil {
		log.Printf("[payment][gateway] failed creating sdk config err=%v", err)
		return nil, err
	}
	log.Printf("[payment][gateway] Mercado Pago client initialized")

	return &MercadoPagoGateway{
		preferences:   preference.NewClient(cfg),
		payments:      payment.NewClient(cfg),
		refunds:       refund.NewClient(cfg),
		webhookSecret: []byte(webhookSecret),
		callTimeout:   defaultCallTimeout,
		sessionTTL:    defaultSessionTTL,
	}, nil
}

func (g *MercadoPagoGateway) CreateCheckoutSession(ctx context.Context, params entities.CheckoutSessionParams) (entities.CheckoutSession, error) {
	log.Printf("[payment][gateway] create session start order_id=%s amount=%s %s", params.OrderID, params.Amount.String(), params.Currency)

	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	items := make([]preference.ItemRequest, 0, len(params.Items))
	for i, it := range params.Items {
		items = append(items, preference.ItemRequest{
			ID:         strconv.Itoa(i + 1),
			Title:      it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  majorUnits(minorUnits(it.UnitPrice)).InexactFloat64(),
			CurrencyID: params.Currency,
		})
	}

	expires := time.Now().UTC().Add(g.sessionTTL)
	metadata := make(map[string]any, len(params.Metadata))
	for k, v := range params.Metadata {
		metadata[k] = v
	}

	req := preference.Request{
		Items:             items,
		ExternalReference: params.OrderID,
		Metadata:          metadata,
		Expires:           true,
		ExpirationDateTo:  &expires,
	}
	if params.CustomerEmail != "" {
		req.Payer = &preference.PayerRequest{Email: params.CustomerEmail}
	}
	if params.SuccessURL != "" || params.CancelURL != "" {
		req.BackURLs = &preference.BackURLsRequest{
			Success: params.SuccessURL,
			Failure: params.CancelURL,
			Pending: params.SuccessURL,
		}
	}

	resp, err := g.preferences.Create(ctx, req)
	if err != nil {
		log.Printf("[payment][gateway] sdk preference create failed order_id=%s err=%v", params.OrderID, err)
		return entities.CheckoutSession{}, fmt.Errorf("%w: %v", interfaces.ErrGatewayCall, err)
	}

	log.Printf("[payment][gateway] create session success order_id=%s session_id=%s", params.OrderID, resp.ID)
	return entities.CheckoutSession{
		SessionID: resp.ID,
		URL:       resp.InitPoint,
		ExpiresAt: expires,
	}, nil
}

func (g *MercadoPagoGateway) GetCheckoutSession(ctx context.Context, sessionID string) (entities.CheckoutSessionDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	resp, err := g.preferences.Get(ctx, sessionID)
	if err != nil {
		if isProviderNotFound(err) {
			return entities.CheckoutSessionDetail{}, interfaces.ErrSessionNotFound
		}
		log.Printf("[payment][gateway] sdk preference get failed session_id=%s err=%v", sessionID, err)
		return entities.CheckoutSessionDetail{}, fmt.Errorf("%w: %v", interfaces.ErrGatewayCall, err)
	}

	detail := entities.CheckoutSessionDetail{
		SessionID: resp.ID,
		URL:       resp.InitPoint,
	}
	if !resp.ExpirationDateTo.IsZero() {
		detail.ExpiresAt = resp.ExpirationDateTo
	}
	return detail, nil
}

func (g *MercadoPagoGateway) CreateRefund(ctx context.Context, intentID string, amount *decimal.Decimal, reason string) (entities.RefundDescriptor, error) {
	log.Printf("[payment][gateway] refund start intent_id=%s partial=%t reason=%q", intentID, amount != nil, reason)

	paymentID, err := strconv.Atoi(intentID)
	if err != nil {
		return entities.RefundDescriptor{}, fmt.Errorf("%w: invalid intent id %q", interfaces.ErrGatewayCall, intentID)
	}

	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	// Refunding an unknown or unapproved intent fails provider-side with an
	// opaque error; checking first gives the caller a classifiable one.
	intent, err := g.payments.Get(ctx, paymentID)
	if err != nil {
		if isProviderNotFound(err) {
			return entities.RefundDescriptor{}, fmt.Errorf("%w: intent %s not found", interfaces.ErrGatewayCall, intentID)
		}
		log.Printf("[payment][gateway] sdk payment get failed intent_id=%s err=%v", intentID, err)
		return entities.RefundDescriptor{}, fmt.Errorf("%w: %v", interfaces.ErrGatewayCall, err)
	}
	if intent.Status != "approved" {
		return entities.RefundDescriptor{}, fmt.Errorf("%w: intent %s is %s, not refundable", interfaces.ErrGatewayCall, intentID, intent.Status)
	}

	var resp *refund.Response
	if amount != nil {
		resp, err = g.refunds.CreatePartialRefund(ctx, paymentID, majorUnits(minorUnits(*amount)).InexactFloat64())
	} else {
		resp, err = g.refunds.Create(ctx, paymentID)
	}
	if err != nil {
		log.Printf("[payment][gateway] sdk refund failed intent_id=%s err=%v", intentID, err)
		return entities.RefundDescriptor{}, fmt.Errorf("%w: %v", interfaces.ErrGatewayCall, err)
	}

	refunded := decimal.NewFromFloat(resp.Amount)
	log.Printf("[payment][gateway] refund success intent_id=%s refund_id=%d amount=%s status=%s", intentID, resp.ID, refunded.String(), resp.Status)
	return entities.RefundDescriptor{
		RefundID: strconv.Itoa(resp.ID),
		IntentID: intentID,
		Amount:   refunded,
		Status:   resp.Status,
	}, nil
}

// VerifyWebhookSignature checks the HMAC-SHA256 of the exact raw body
// against the shared signing secret. The header carries "ts=<unix>,v1=<hex>";
// the timestamp is informational, the mac covers only the body.
func (g *MercadoPagoGateway) VerifyWebhookSignature(rawBody []byte, signatureHeader string) (entities.WebhookEvent, error) {
	provided, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return entities.WebhookEvent{}, fmt.Errorf("%w: %v", interfaces.ErrBadWebhookSignature, err)
	}

	mac := hmac.New(sha256.New, g.webhookSecret)
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	if !hmac.Equal(provided, expected) {
		return entities.WebhookEvent{}, interfaces.ErrBadWebhookSignature
	}

	var event entities.WebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return entities.WebhookEvent{}, fmt.Errorf("%w: body is not a valid event: %v", interfaces.ErrBadWebhookSignature, err)
	}
	event.Raw = append([]byte(nil), rawBody...)
	return event, nil
}

func parseSignatureHeader(header string) ([]byte, error) {
	if strings.TrimSpace(header) == "" {
		return nil, errors.New("empty signature header")
	}
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || k != "v1" {
			continue
		}
		sig, err := hex.DecodeString(v)
		if err != nil {
			return nil, errors.New("v1 signature is not valid hex")
		}
		return sig, nil
	}
	return nil, errors.New("no v1 signature in header")
}

func isProviderNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not_found") || strings.Contains(msg, "\"status\":404") || strings.Contains(msg, "status 404")
}

// minorUnits converts a major-unit decimal to cents, rounding half-up.
func minorUnits(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// majorUnits converts cents back to a major-unit decimal.
func majorUnits(m int64) decimal.Decimal {
	return decimal.NewFromInt(m).Div(decimal.NewFromInt(100))
}
