package repository

import (
	"context"
	"errors"
	"time"

	"shop_payments/internal/domain/entities"
	"shop_payments/internal/usecase/interfaces"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

const (
	defaultPaymentsTable     = "payments"
	defaultTransactionsTable = "payment_transactions"
	defaultClaimsTable       = "payment_claims"

	paymentsOrderIDIndex        = "order_id-index"
	paymentsSessionIDIndex      = "session_id-index"
	paymentsIdempotencyKeyIndex = "idempotency_key-index"
	transactionsPaymentIDIndex  = "payment_id-index"

	claimPrefixIdempotency = "idem#"
	claimPrefixOrder       = "order#"
	claimPrefixEvent       = "evt#"
)

type paymentItem struct {
	ID                     string            `dynamodbav:"id"`
	OrderID                string            `dynamodbav:"order_id"`
	UserID                 string            `dynamodbav:"user_id"`
	GatewaySessionID       string            `dynamodbav:"gateway_session_id"`
	GatewayPaymentIntentID string            `dynamodbav:"gateway_payment_intent_id,omitempty"`
	Amount                 string            `dynamodbav:"amount"`
	Currency               string            `dynamodbav:"currency"`
	Status                 string            `dynamodbav:"status"`
	IdempotencyKey         string            `dynamodbav:"idempotency_key"`
	Metadata               map[string]string `dynamodbav:"metadata,omitempty"`
	ErrorMessage           string            `dynamodbav:"error_message,omitempty"`
	CheckoutURL            string            `dynamodbav:"checkout_url,omitempty"`
	SessionExpiresAt       string            `dynamodbav:"session_expires_at,omitempty"`
	CreatedAt              string            `dynamodbav:"created_at"`
	UpdatedAt              string            `dynamodbav:"updated_at"`
	ProcessedAt            string            `dynamodbav:"processed_at,omitempty"`
}

type transactionItem struct {
	ID               string `dynamodbav:"id"`
	PaymentID        string `dynamodbav:"payment_id"`
	Type             string `dynamodbav:"type"`
	Status           string `dynamodbav:"status"`
	Amount           string `dynamodbav:"amount"`
	Currency         string `dynamodbav:"currency"`
	GatewayEventID   string `dynamodbav:"gateway_event_id,omitempty"`
	GatewayEventType string `dynamodbav:"gateway_event_type,omitempty"`
	RawPayload       string `dynamodbav:"raw_payload,omitempty"`
	ErrorDetails     string `dynamodbav:"error_details,omitempty"`
	CreatedAt        string `dynamodbav:"created_at"`
}

// claimItem is a single-attribute uniqueness marker. Writing it with an
// attribute_not_exists condition inside the same TransactWriteItems as the
// payment write is what enforces the idempotency-key, active-order and
// gateway-event-id invariants atomically; a GSI cannot express uniqueness
// and a read-then-write check leaves a race window.
type claimItem struct {
	ClaimID   string `dynamodbav:"claim_id"`
	PaymentID string `dynamodbav:"payment_id"`
	CreatedAt string `dynamodbav:"created_at"`
}

// PaymentDynamoRepository persists Payment and PaymentTransaction entities
// in DynamoDB.
//
// Table requirements:
//   - payments: PK id; GSIs order_id-index, session_id-index,
//     idempotency_key-index
//   - payment_transactions: PK id; GSI payment_id-index
//   - payment_claims: PK claim_id

type PaymentDynamoRepository struct {
	ddb               *dynamodb.Client
	paymentsTable     string
	transactionsTable string
	claimsTable       string
}

var _ interfaces.IPaymentRepository = (*PaymentDynamoRepository)(nil)

func NewPaymentDynamoRepository(ddb *dynamodb.Client) *PaymentDynamoRepository {
	return &PaymentDynamoRepository{
		ddb:               ddb,
		paymentsTable:     getenvDefault("PAYMENTS_TABLE", defaultPaymentsTable),
		transactionsTable: getenvDefault("PAYMENT_TRANSACTIONS_TABLE", defaultTransactionsTable),
		claimsTable:       getenvDefault("PAYMENT_CLAIMS_TABLE", defaultClaimsTable),
	}
}

func (r *PaymentDynamoRepository) Create(ctx context.Context, p entities.Payment, genesis entities.PaymentTransaction) (entities.Payment, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	idemClaim, err := attributevalue.MarshalMap(claimItem{
		ClaimID:   claimPrefixIdempotency + p.IdempotencyKey,
		PaymentID: p.ID,
		CreatedAt: now,
	})
	if err != nil {
		return entities.Payment{}, err
	}
	orderClaim, err := attributevalue.MarshalMap(claimItem{
		ClaimID:   claimPrefixOrder + p.OrderID,
		PaymentID: p.ID,
		CreatedAt: now,
	})
	if err != nil {
		return entities.Payment{}, err
	}
	paymentAV, err := attributevalue.MarshalMap(toPaymentItem(p))
	if err != nil {
		return entities.Payment{}, err
	}
	txAV, err := attributevalue.MarshalMap(toTransactionItem(genesis))
	if err != nil {
		return entities.Payment{}, err
	}

	// Item order matters: cancellation reasons come back positionally.
	_, err = r.ddb.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:                aws.String(r.claimsTable),
				Item:                     idemClaim,
				ConditionExpression:      aws.String("attribute_not_exists(#cid)"),
				ExpressionAttributeNames: map[string]string{"#cid": "claim_id"},
			}},
			{Put: &types.Put{
				TableName:                aws.String(r.claimsTable),
				Item:                     orderClaim,
				ConditionExpression:      aws.String("attribute_not_exists(#cid)"),
				ExpressionAttributeNames: map[string]string{"#cid": "claim_id"},
			}},
			{Put: &types.Put{
				TableName:                aws.String(r.paymentsTable),
				Item:                     paymentAV,
				ConditionExpression:      aws.String("attribute_not_exists(#id)"),
				ExpressionAttributeNames: map[string]string{"#id": "id"},
			}},
			{Put: &types.Put{
				TableName: aws.String(r.transactionsTable),
				Item:      txAV,
			}},
		},
	})
	if err != nil {
		if mapped := mapCancellation(err, interfaces.ErrIdempotencyKeyClaimed, interfaces.ErrOrderPaymentActive); mapped != nil {
			return entities.Payment{}, mapped
		}
		return entities.Payment{}, err
	}
	return p, nil
}

func (r *PaymentDynamoRepository) ApplyTransition(ctx context.Context, updated entities.Payment, fromStatus entities.PaymentStatus, tx entities.PaymentTransaction) (entities.Payment, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	items := make([]types.TransactWriteItem, 0, 4)
	conflicts := make([]error, 0, 4)

	if tx.GatewayEventID != "" {
		eventClaim, err := attributevalue.MarshalMap(claimItem{
			ClaimID:   claimPrefixEvent + tx.GatewayEventID,
			PaymentID: updated.ID,
			CreatedAt: now,
		})
		if err != nil {
			return entities.Payment{}, err
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:                aws.String(r.claimsTable),
			Item:                     eventClaim,
			ConditionExpression:      aws.String("attribute_not_exists(#cid)"),
			ExpressionAttributeNames: map[string]string{"#cid": "claim_id"},
		}})
		conflicts = append(conflicts, interfaces.ErrGatewayEventClaimed)
	}

	updateExpr := "SET #status = :status, #updated_at = :updated_at"
	names := map[string]string{
		"#id":         "id",
		"#status":     "status",
		"#updated_at": "updated_at",
	}
	values := map[string]types.AttributeValue{
		":status":     &types.AttributeValueMemberS{Value: string(updated.Status)},
		":from":       &types.AttributeValueMemberS{Value: string(fromStatus)},
		":updated_at": &types.AttributeValueMemberS{Value: now},
	}
	if updated.ProcessedAt != nil {
		updateExpr += ", #processed_at = :processed_at"
		names["#processed_at"] = "processed_at"
		values[":processed_at"] = &types.AttributeValueMemberS{Value: updated.ProcessedAt.UTC().Format(time.RFC3339Nano)}
	}
	if updated.GatewayPaymentIntentID != "" {
		updateExpr += ", #intent_id = :intent_id"
		names["#intent_id"] = "gateway_payment_intent_id"
		values[":intent_id"] = &types.AttributeValueMemberS{Value: updated.GatewayPaymentIntentID}
	}
	if updated.ErrorMessage != "" {
		updateExpr += ", #error_message = :error_message"
		names["#error_message"] = "error_message"
		values[":error_message"] = &types.AttributeValueMemberS{Value: updated.ErrorMessage}
	}

	items = append(items, types.TransactWriteItem{Update: &types.Update{
		TableName:                 aws.String(r.paymentsTable),
		Key:                       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: updated.ID}},
		ConditionExpression:       aws.String("attribute_exists(#id) AND #status = :from"),
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}})
	conflicts = append(conflicts, interfaces.ErrPaymentStateChanged)

	txAV, err := attributevalue.MarshalMap(toTransactionItem(tx))
	if err != nil {
		return entities.Payment{}, err
	}
	items = append(items, types.TransactWriteItem{Put: &types.Put{
		TableName: aws.String(r.transactionsTable),
		Item:      txAV,
	}})
	conflicts = append(conflicts, nil)

	// Terminal statuses free the order for a new payment attempt.
	if updated.Status.IsTerminal() {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(r.claimsTable),
			Key:       map[string]types.AttributeValue{"claim_id": &types.AttributeValueMemberS{Value: claimPrefixOrder + updated.OrderID}},
		}})
		conflicts = append(conflicts, nil)
	}

	_, err = r.ddb.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if mapped := mapCancellation(err, conflicts...); mapped != nil {
			return entities.Payment{}, mapped
		}
		return entities.Payment{}, err
	}

	updated.UpdatedAt, _ = time.Parse(time.RFC3339Nano, now)
	return updated, nil
}

func (r *PaymentDynamoRepository) GetByID(ctx context.Context, id string) (entities.Payment, error) {
	out, err := r.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.paymentsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return entities.Payment{}, err
	}
	if len(out.Item) == 0 {
		return entities.Payment{}, nil
	}

	var it paymentItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return entities.Payment{}, err
	}
	return fromPaymentItem(it), nil
}

func (r *PaymentDynamoRepository) GetByOrderID(ctx context.Context, orderID string) (entities.Payment, error) {
	return r.queryOne(ctx, paymentsOrderIDIndex, "order_id = :v", orderID)
}

func (r *PaymentDynamoRepository) GetByIdempotencyKey(ctx context.Context, key string) (entities.Payment, error) {
	return r.queryOne(ctx, paymentsIdempotencyKeyIndex, "idempotency_key = :v", key)
}

func (r *PaymentDynamoRepository) GetBySessionID(ctx context.Context, sessionID string) (entities.Payment, error) {
	return r.queryOne(ctx, paymentsSessionIDIndex, "gateway_session_id = :v", sessionID)
}

// queryOne resolves a GSI lookup to the most recently created payment.
// Orders may accumulate several non-active payments over time.
func (r *PaymentDynamoRepository) queryOne(ctx context.Context, index, keyExpr, value string) (entities.Payment, error) {
	out, err := r.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.paymentsTable),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String(keyExpr),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
	})
	if err != nil {
		return entities.Payment{}, err
	}
	if len(out.Items) == 0 {
		return entities.Payment{}, nil
	}

	var latest entities.Payment
	for _, raw := range out.Items {
		var it paymentItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return entities.Payment{}, err
		}
		p := fromPaymentItem(it)
		if latest.ID == "" || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	return latest, nil
}

func (r *PaymentDynamoRepository) ListTransactionsByPaymentID(ctx context.Context, paymentID string) ([]entities.PaymentTransaction, error) {
	out, err := r.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.transactionsTable),
		IndexName:              aws.String(transactionsPaymentIDIndex),
		KeyConditionExpression: aws.String("payment_id = :pid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pid": &types.AttributeValueMemberS{Value: paymentID},
		},
	})
	if err != nil {
		return nil, err
	}

	items := make([]entities.PaymentTransaction, 0, len(out.Items))
	for _, raw := range out.Items {
		var it transactionItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return nil, err
		}
		items = append(items, fromTransactionItem(it))
	}
	return items, nil
}

func (r *PaymentDynamoRepository) GatewayEventSeen(ctx context.Context, eventID string) (bool, error) {
	out, err := r.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.claimsTable),
		Key: map[string]types.AttributeValue{
			"claim_id": &types.AttributeValueMemberS{Value: claimPrefixEvent + eventID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, err
	}
	return len(out.Item) > 0, nil
}

// mapCancellation translates a TransactWriteItems cancellation into the
// sentinel for whichever conditional item failed. conflicts is positional:
// one entry per transact item, nil for unconditional ones.
func mapCancellation(err error, conflicts ...error) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil
	}
	for i, reason := range tce.CancellationReasons {
		if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
			continue
		}
		if i < len(conflicts) && conflicts[i] != nil {
			return conflicts[i]
		}
	}
	return nil
}

func toPaymentItem(p entities.Payment) paymentItem {
	it := paymentItem{
		ID:                     p.ID,
		OrderID:                p.OrderID,
		UserID:                 p.UserID,
		GatewaySessionID:       p.GatewaySessionID,
		GatewayPaymentIntentID: p.GatewayPaymentIntentID,
		Amount:                 p.Amount.String(),
		Currency:               p.Currency,
		Status:                 string(p.Status),
		IdempotencyKey:         p.IdempotencyKey,
		Metadata:               p.Metadata,
		ErrorMessage:           p.ErrorMessage,
		CheckoutURL:            p.CheckoutURL,
		CreatedAt:              p.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:              p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !p.SessionExpiresAt.IsZero() {
		it.SessionExpiresAt = p.SessionExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	if p.ProcessedAt != nil {
		it.ProcessedAt = p.ProcessedAt.UTC().Format(time.RFC3339Nano)
	}
	return it
}

func fromPaymentItem(it paymentItem) entities.Payment {
	createdAt, _ := time.Parse(time.RFC3339Nano, it.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, it.UpdatedAt)
	amount, _ := decimal.NewFromString(it.Amount)
	p := entities.Payment{
		ID:                     it.ID,
		OrderID:                it.OrderID,
		UserID:                 it.UserID,
		GatewaySessionID:       it.GatewaySessionID,
		GatewayPaymentIntentID: it.GatewayPaymentIntentID,
		Amount:                 amount,
		Currency:               it.Currency,
		Status:                 entities.PaymentStatus(it.Status),
		IdempotencyKey:         it.IdempotencyKey,
		Metadata:               it.Metadata,
		ErrorMessage:           it.ErrorMessage,
		CheckoutURL:            it.CheckoutURL,
		CreatedAt:              createdAt,
		UpdatedAt:              updatedAt,
	}
	if it.SessionExpiresAt != "" {
		p.SessionExpiresAt, _ = time.Parse(time.RFC3339Nano, it.SessionExpiresAt)
	}
	if it.ProcessedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, it.ProcessedAt); err == nil {
			p.ProcessedAt = &ts
		}
	}
	return p
}

func toTransactionItem(tx entities.PaymentTransaction) transactionItem {
	return transactionItem{
		ID:               tx.ID,
		PaymentID:        tx.PaymentID,
		Type:             string(tx.Type),
		Status:           string(tx.Status),
		Amount:           tx.Amount.String(),
		Currency:         tx.Currency,
		GatewayEventID:   tx.GatewayEventID,
		GatewayEventType: tx.GatewayEventType,
		RawPayload:       string(tx.RawPayload),
		ErrorDetails:     tx.ErrorDetails,
		CreatedAt:        tx.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func fromTransactionItem(it transactionItem) entities.PaymentTransaction {
	createdAt, _ := time.Parse(time.RFC3339Nano, it.CreatedAt)
	amount, _ := decimal.NewFromString(it.Amount)
	return entities.PaymentTransaction{
		ID:               it.ID,
		PaymentID:        it.PaymentID,
		Type:             entities.TransactionType(it.Type),
		Status:           entities.TransactionStatus(it.Status),
		Amount:           amount,
		Currency:         it.Currency,
		GatewayEventID:   it.GatewayEventID,
		GatewayEventType: it.GatewayEventType,
		RawPayload:       []byte(it.RawPayload),
		ErrorDetails:     it.ErrorDetails,
		CreatedAt:        createdAt,
	}
}
