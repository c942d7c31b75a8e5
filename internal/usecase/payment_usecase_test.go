package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"shop_payments/internal/domain/entities"
	"shop_payments/internal/usecase/interfaces"
	mock_interfaces "shop_payments/internal/usecase/interfaces/mocks"

	"github.com/shopspring/decimal"
	"go.uber.org/mock/gomock"
)

func validCreateInput() CreatePaymentInput {
	return CreatePaymentInput{
		OrderID:        "order-1",
		CustomerEmail:  "buyer@example.com",
		Amount:         decimal.NewFromFloat(149.90),
		Currency:       "BRL",
		IdempotencyKey: "idem-1",
		Items: []entities.CheckoutItem{
			{Name: "Wireless Mouse", Quantity: 1, UnitPrice: decimal.NewFromFloat(149.90)},
		},
	}
}

func pendingPayment() entities.Payment {
	return entities.Payment{
		ID:               "pay-1",
		OrderID:          "order-1",
		UserID:           "user-1",
		GatewaySessionID: "sess-1",
		Amount:           decimal.NewFromFloat(149.90),
		Currency:         "BRL",
		Status:           entities.PaymentStatusPending,
		IdempotencyKey:   "idem-1",
		CheckoutURL:      "https://gateway.test/checkout/sess-1",
		SessionExpiresAt: time.Now().UTC().Add(time.Hour),
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
}

func TestPaymentUseCase_CreatePayment_Validations(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CreatePaymentInput)
	}{
		{"empty order id", func(in *CreatePaymentInput) { in.OrderID = "  " }},
		{"empty idempotency key", func(in *CreatePaymentInput) { in.IdempotencyKey = "" }},
		{"empty currency", func(in *CreatePaymentInput) { in.Currency = "" }},
		{"no items", func(in *CreatePaymentInput) { in.Items = nil }},
		{"zero amount", func(in *CreatePaymentInput) { in.Amount = decimal.Zero }},
		{"negative amount", func(in *CreatePaymentInput) { in.Amount = decimal.NewFromInt(-1) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := NewPaymentUseCase(nil, nil, nil)
			in := validCreateInput()
			tc.mutate(&in)
			_, err := uc.CreatePayment(context.Background(), "user-1", in)
			if !errors.Is(err, ErrInvalidPaymentRequest) {
				t.Fatalf("expected ErrInvalidPaymentRequest, got %v", err)
			}
		})
	}

	t.Run("gateway not configured", func(t *testing.T) {
		uc := NewPaymentUseCase(nil, nil, nil)
		_, err := uc.CreatePayment(context.Background(), "user-1", validCreateInput())
		if err == nil || err.Error() != "payment gateway not configured" {
			t.Fatalf("expected gateway not configured error, got %v", err)
		}
	})
}

func TestPaymentUseCase_CreatePayment_Idempotency(t *testing.T) {
	t.Run("replays live pending payment with refreshed url", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		gateway := mock_interfaces.NewMockIPaymentGateway(ctrl)

		existing := pendingPayment()
		repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(existing, nil)
		gateway.EXPECT().GetCheckoutSession(gomock.Any(), "sess-1").
			Return(entities.CheckoutSessionDetail{SessionID: "sess-1", URL: "https://gateway.test/checkout/sess-1?fresh=1"}, nil)

		uc := NewPaymentUseCase(repo, gateway, nil)
		got, err := uc.CreatePayment(context.Background(), "user-1", validCreateInput())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.ID != existing.ID {
			t.Fatalf("expected replayed payment %s, got %s", existing.ID, got.ID)
		}
		if got.CheckoutURL != "https://gateway.test/checkout/sess-1?fresh=1" {
			t.Fatalf("expected refreshed checkout url, got %s", got.CheckoutURL)
		}
	})

	t.Run("replay keeps stored url when session refresh fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		gateway := mock_interfaces.NewMockIPaymentGateway(ctrl)

		existing := pendingPayment()
		repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(existing, nil)
		gateway.EXPECT().GetCheckoutSession(gomock.Any(), "sess-1").
			Return(entities.CheckoutSessionDetail{}, interfaces.ErrGatewayCall)

		uc := NewPaymentUseCase(repo, gateway, nil)
		got, err := uc.CreatePayment(context.Background(), "user-1", validCreateInput())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.CheckoutURL != existing.CheckoutURL {
			t.Fatalf("expected stored checkout url, got %s", got.CheckoutURL)
		}
	})

	t.Run("conflict when key belongs to a settled payment", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		gateway := mock_interfaces.NewMockIPaymentGateway(ctrl)

		settled := pendingPayment()
		settled.Status = entities.PaymentStatusSucceeded
		repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(settled, nil)

		uc := NewPaymentUseCase(repo, gateway, nil)
		_, err := uc.CreatePayment(context.Background(), "user-1", validCreateInput())
		if !errors.Is(err, ErrIdempotencyConflict) {
			t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
		}
	})

	t.Run("conflict when pending session already expired", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		gateway := mock_interfaces.NewMockIPaymentGateway(ctrl)

		stale := pendingPayment()
		stale.SessionExpiresAt = time.Now().UTC().Add(-time.Minute)
		repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(stale, nil)

		uc := NewPaymentUseCase(repo, gateway, nil)
		_, err := uc.CreatePayment(context.Background(), "user-1", validCreateInput())
		if !errors.Is(err, ErrIdempotencyConflict) {
			t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
		}
	})
}

func TestPaymentUseCase_CreatePayment_OrderConflict(t *testing.T) {
	t.Run("rejects when order has an active payment", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		gateway := mock_interfaces.NewMockIPaymentGateway(ctrl)

		active := pendingPayment()
		active.IdempotencyKey = "other-key"
		repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(entities.Payment{}, nil)
		repo.EXPECT().GetByOrderID(gomock.Any(), "order-1").Return(active, nil)

		uc := NewPaymentUseCase(repo, gateway, nil)
		_, err := uc.CreatePayment(context.Background(), "user-1", validCreateInput())
		if !errors.Is(err, ErrOrderPaymentConflict) {
			t.Fatalf("expected ErrOrderPaymentConflict, got %v", err)
		}
	})

	t.Run("allows a new payment after the previous one failed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		gateway := mock_interfaces.NewMockIPaymentGateway(ctrl)
		publisher := mock_interfaces.NewMockIEventPublisher(ctrl)

		failed := pendingPayment()
		failed.Status = entities.PaymentStatusFailed
		repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(entities.Payment{}, nil)
		repo.EXPECT().GetByOrderID(gomock.Any(), "order-1").Return(failed, nil)
		gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
			Return(entities.CheckoutSession{SessionID: "sess-2", URL: "https://gateway.test/checkout/sess-2", ExpiresAt: time.Now().UTC().Add(24 * time.Hour)}, nil)
		repo.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, p entities.Payment, _ entities.PaymentTransaction) (entities.Payment, error) {
				return p, nil
			})
		publisher.EXPECT().Publish(gomock.Any(), interfaces.EventPaymentCreated, gomock.Any()).Return(nil)

		uc := NewPaymentUseCase(repo, gateway, publisher)
		got, err := uc.CreatePayment(context.Background(), "user-1", validCreateInput())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.GatewaySessionID != "sess-2" {
			t.Fatalf("expected session sess-2, got %s", got.GatewaySessionID)
		}
	})
}

func TestPaymentUseCase_CreatePayment_GatewayAndPersistence(t *testing.T) {
	t.Run("gateway failure creates no payment row", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		gateway := mock_interfaces.NewMockIPaymentGateway(ctrl)

		repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(entities.Payment{}, nil)
		repo.EXPECT().GetByOrderID(gomock.Any(), "order-1").Return(entities.Payment{}, nil)
		gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
			Return(entities.CheckoutSession{}, interfaces.ErrGatewayCall)

		uc := NewPaymentUseCase(repo, gateway, nil)
		_, err := uc.CreatePayment(context.Background(), "user-1", validCreateInput())
		if !errors.Is(err, interfaces.ErrGatewayCall) {
			t.Fatalf("expected ErrGatewayCall, got %v", err)
		}
	})

	t.Run("creates pending payment with genesis transaction", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		gateway := mock_interfaces.NewMockIPaymentGateway(ctrl)
		publisher := mock_interfaces.NewMockIEventPublisher(ctrl)

		expires := time.Now().UTC().Add(24 * time.Hour)
		repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(entities.Payment{}, nil)
		repo.EXPECT().GetByOrderID(gomock.Any(), "order-1").Return(entities.Payment{}, nil)
		gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, params entities.CheckoutSessionParams) (entities.CheckoutSession, error) {
				if params.OrderID != "order-1" || !params.Amount.Equal(decimal.NewFromFloat(149.90)) {
					t.Fatalf("unexpected session params: %+v", params)
				}
				return entities.CheckoutSession{SessionID: "sess-1", URL: "https://gateway.test/checkout/sess-1", ExpiresAt: expires}, nil
			})
		repo.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, p entities.Payment, genesis entities.PaymentTransaction) (entities.Payment, error) {
				if p.Status != entities.PaymentStatusPending {
					t.Fatalf("expected PENDING, got %s", p.Status)
				}
				if p.GatewaySessionID != "sess-1" || !p.SessionExpiresAt.Equal(expires) {
					t.Fatalf("session fields not carried: %+v", p)
				}
				if genesis.Type != entities.TransactionTypeSessionCreated || genesis.PaymentID != p.ID {
					t.Fatalf("unexpected genesis transaction: %+v", genesis)
				}
				return p, nil
			})
		publisher.EXPECT().Publish(gomock.Any(), interfaces.EventPaymentCreated, gomock.Any()).Return(nil)

		uc := NewPaymentUseCase(repo, gateway, publisher)
		got, err := uc.CreatePayment(context.Background(), "user-1", validCreateInput())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.CheckoutURL != "https://gateway.test/checkout/sess-1" {
			t.Fatalf("expected checkout url, got %s", got.CheckoutURL)
		}
	})

	t.Run("publish failure does not fail the creation", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		gateway := mock_interfaces.NewMockIPaymentGateway(ctrl)
		publisher := mock_interfaces.NewMockIEventPublisher(ctrl)

		repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(entities.Payment{}, nil)
		repo.EXPECT().GetByOrderID(gomock.Any(), "order-1").Return(entities.Payment{}, nil)
		gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
			Return(entities.CheckoutSession{SessionID: "sess-1", URL: "https://gateway.test/checkout/sess-1", ExpiresAt: time.Now().UTC().Add(time.Hour)}, nil)
		repo.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, p entities.Payment, _ entities.PaymentTransaction) (entities.Payment, error) {
				return p, nil
			})
		publisher.EXPECT().Publish(gomock.Any(), interfaces.EventPaymentCreated, gomock.Any()).Return(errors.New("broker down"))

		uc := NewPaymentUseCase(repo, gateway, publisher)
		if _, err := uc.CreatePayment(context.Background(), "user-1", validCreateInput()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("lost idempotency race reconciles against the winner", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		gateway := mock_interfaces.NewMockIPaymentGateway(ctrl)

		winner := pendingPayment()
		winner.ID = "pay-winner"
		repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(entities.Payment{}, nil)
		repo.EXPECT().GetByOrderID(gomock.Any(), "order-1").Return(entities.Payment{}, nil)
		gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
			Return(entities.CheckoutSession{SessionID: "sess-9", URL: "u", ExpiresAt: time.Now().UTC().Add(time.Hour)}, nil)
		repo.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(entities.Payment{}, interfaces.ErrIdempotencyKeyClaimed)
		repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(winner, nil)
		gateway.EXPECT().GetCheckoutSession(gomock.Any(), winner.GatewaySessionID).
			Return(entities.CheckoutSessionDetail{SessionID: winner.GatewaySessionID, URL: winner.CheckoutURL}, nil)

		uc := NewPaymentUseCase(repo, gateway, nil)
		got, err := uc.CreatePayment(context.Background(), "user-1", validCreateInput())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.ID != "pay-winner" {
			t.Fatalf("expected the winner payment, got %s", got.ID)
		}
	})

	t.Run("lost order race maps to order conflict", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		gateway := mock_interfaces.NewMockIPaymentGateway(ctrl)

		repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "idem-1").Return(entities.Payment{}, nil)
		repo.EXPECT().GetByOrderID(gomock.Any(), "order-1").Return(entities.Payment{}, nil)
		gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
			Return(entities.CheckoutSession{SessionID: "sess-9", URL: "u", ExpiresAt: time.Now().UTC().Add(time.Hour)}, nil)
		repo.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(entities.Payment{}, interfaces.ErrOrderPaymentActive)

		uc := NewPaymentUseCase(repo, gateway, nil)
		_, err := uc.CreatePayment(context.Background(), "user-1", validCreateInput())
		if !errors.Is(err, ErrOrderPaymentConflict) {
			t.Fatalf("expected ErrOrderPaymentConflict, got %v", err)
		}
	})
}

func TestPaymentUseCase_Getters(t *testing.T) {
	t.Run("get by id not found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		repo.EXPECT().GetByID(gomock.Any(), "missing").Return(entities.Payment{}, nil)

		uc := NewPaymentUseCase(repo, nil, nil)
		_, err := uc.GetByID(context.Background(), "missing")
		if !errors.Is(err, ErrPaymentNotFound) {
			t.Fatalf("expected ErrPaymentNotFound, got %v", err)
		}
	})

	t.Run("get by id empty", func(t *testing.T) {
		uc := NewPaymentUseCase(nil, nil, nil)
		_, err := uc.GetByID(context.Background(), " ")
		if !errors.Is(err, ErrInvalidPaymentRequest) {
			t.Fatalf("expected ErrInvalidPaymentRequest, got %v", err)
		}
	})

	t.Run("get by order id", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		p := pendingPayment()
		repo.EXPECT().GetByOrderID(gomock.Any(), "order-1").Return(p, nil)

		uc := NewPaymentUseCase(repo, nil, nil)
		got, err := uc.GetByOrderID(context.Background(), "order-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.ID != p.ID {
			t.Fatalf("expected %s, got %s", p.ID, got.ID)
		}
	})

	t.Run("list transactions checks payment exists", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		repo.EXPECT().GetByID(gomock.Any(), "missing").Return(entities.Payment{}, nil)

		uc := NewPaymentUseCase(repo, nil, nil)
		_, err := uc.ListTransactions(context.Background(), "missing")
		if !errors.Is(err, ErrPaymentNotFound) {
			t.Fatalf("expected ErrPaymentNotFound, got %v", err)
		}
	})

	t.Run("list transactions", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		repo.EXPECT().GetByID(gomock.Any(), "pay-1").Return(pendingPayment(), nil)
		repo.EXPECT().ListTransactionsByPaymentID(gomock.Any(), "pay-1").
			Return([]entities.PaymentTransaction{{ID: "tx-1", PaymentID: "pay-1"}}, nil)

		uc := NewPaymentUseCase(repo, nil, nil)
		txs, err := uc.ListTransactions(context.Background(), "pay-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(txs) != 1 || txs[0].ID != "tx-1" {
			t.Fatalf("unexpected transactions: %+v", txs)
		}
	})
}

func completedEvent() entities.WebhookEvent {
	return entities.WebhookEvent{
		EventID:         "evt-1",
		Type:            entities.WebhookEventSessionCompleted,
		SessionID:       "sess-1",
		PaymentIntentID: "intent-1",
		AmountMinor:     14990,
		Currency:        "BRL",
	}
}

func TestPaymentUseCase_ProcessWebhookEvent(t *testing.T) {
	t.Run("missing event id", func(t *testing.T) {
		uc := NewPaymentUseCase(nil, nil, nil)
		ev := completedEvent()
		ev.EventID = ""
		if err := uc.ProcessWebhookEvent(context.Background(), ev); !errors.Is(err, ErrInvalidWebhookEvent) {
			t.Fatalf("expected ErrInvalidWebhookEvent, got %v", err)
		}
	})

	t.Run("duplicate event id is a no-op", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		repo.EXPECT().GatewayEventSeen(gomock.Any(), "evt-1").Return(true, nil)

		uc := NewPaymentUseCase(repo, nil, nil)
		if err := uc.ProcessWebhookEvent(context.Background(), completedEvent()); err != nil {
			t.Fatalf("expected nil for duplicate delivery, got %v", err)
		}
	})

	t.Run("unknown session propagates not found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		repo.EXPECT().GatewayEventSeen(gomock.Any(), "evt-1").Return(false, nil)
		repo.EXPECT().GetBySessionID(gomock.Any(), "sess-1").Return(entities.Payment{}, nil)

		uc := NewPaymentUseCase(repo, nil, nil)
		if err := uc.ProcessWebhookEvent(context.Background(), completedEvent()); !errors.Is(err, ErrPaymentNotFound) {
			t.Fatalf("expected ErrPaymentNotFound, got %v", err)
		}
	})

	t.Run("session completed moves pending to succeeded", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		publisher := mock_interfaces.NewMockIEventPublisher(ctrl)

		p := pendingPayment()
		repo.EXPECT().GatewayEventSeen(gomock.Any(), "evt-1").Return(false, nil)
		repo.EXPECT().GetBySessionID(gomock.Any(), "sess-1").Return(p, nil)
		repo.EXPECT().ApplyTransition(gomock.Any(), gomock.Any(), entities.PaymentStatusPending, gomock.Any()).
			DoAndReturn(func(_ context.Context, updated entities.Payment, _ entities.PaymentStatus, tx entities.PaymentTransaction) (entities.Payment, error) {
				if updated.Status != entities.PaymentStatusSucceeded {
					t.Fatalf("expected SUCCEEDED, got %s", updated.Status)
				}
				if updated.GatewayPaymentIntentID != "intent-1" || updated.ProcessedAt == nil {
					t.Fatalf("intent/processed_at not set: %+v", updated)
				}
				if tx.Type != entities.TransactionTypeSessionCompleted || tx.GatewayEventID != "evt-1" {
					t.Fatalf("unexpected transaction: %+v", tx)
				}
				return updated, nil
			})
		publisher.EXPECT().Publish(gomock.Any(), interfaces.EventPaymentSucceeded, gomock.Any()).Return(nil)

		uc := NewPaymentUseCase(repo, nil, publisher)
		if err := uc.ProcessWebhookEvent(context.Background(), completedEvent()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("intent failed records error message", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		publisher := mock_interfaces.NewMockIEventPublisher(ctrl)

		p := pendingPayment()
		ev := completedEvent()
		ev.Type = entities.WebhookEventIntentFailed
		ev.ErrorMessage = "card_declined"

		repo.EXPECT().GatewayEventSeen(gomock.Any(), "evt-1").Return(false, nil)
		repo.EXPECT().GetBySessionID(gomock.Any(), "sess-1").Return(p, nil)
		repo.EXPECT().ApplyTransition(gomock.Any(), gomock.Any(), entities.PaymentStatusPending, gomock.Any()).
			DoAndReturn(func(_ context.Context, updated entities.Payment, _ entities.PaymentStatus, tx entities.PaymentTransaction) (entities.Payment, error) {
				if updated.Status != entities.PaymentStatusFailed || updated.ErrorMessage != "card_declined" {
					t.Fatalf("unexpected update: %+v", updated)
				}
				if tx.Status != entities.TransactionStatusFailed {
					t.Fatalf("expected FAILED transaction status, got %s", tx.Status)
				}
				return updated, nil
			})
		publisher.EXPECT().Publish(gomock.Any(), interfaces.EventPaymentFailed, gomock.Any()).Return(nil)

		uc := NewPaymentUseCase(repo, nil, publisher)
		if err := uc.ProcessWebhookEvent(context.Background(), ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("session expired cancels the payment", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		publisher := mock_interfaces.NewMockIEventPublisher(ctrl)

		p := pendingPayment()
		ev := completedEvent()
		ev.Type = entities.WebhookEventSessionExpired

		repo.EXPECT().GatewayEventSeen(gomock.Any(), "evt-1").Return(false, nil)
		repo.EXPECT().GetBySessionID(gomock.Any(), "sess-1").Return(p, nil)
		repo.EXPECT().ApplyTransition(gomock.Any(), gomock.Any(), entities.PaymentStatusPending, gomock.Any()).
			DoAndReturn(func(_ context.Context, updated entities.Payment, _ entities.PaymentStatus, _ entities.PaymentTransaction) (entities.Payment, error) {
				if updated.Status != entities.PaymentStatusCancelled {
					t.Fatalf("expected CANCELLED, got %s", updated.Status)
				}
				return updated, nil
			})
		publisher.EXPECT().Publish(gomock.Any(), interfaces.EventPaymentExpired, gomock.Any()).Return(nil)

		uc := NewPaymentUseCase(repo, nil, publisher)
		if err := uc.ProcessWebhookEvent(context.Background(), ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("transition no longer applicable is acknowledged", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)

		settled := pendingPayment()
		settled.Status = entities.PaymentStatusSucceeded
		ev := completedEvent()
		ev.EventID = "evt-late"
		ev.Type = entities.WebhookEventSessionExpired

		repo.EXPECT().GatewayEventSeen(gomock.Any(), "evt-late").Return(false, nil)
		repo.EXPECT().GetBySessionID(gomock.Any(), "sess-1").Return(settled, nil)

		uc := NewPaymentUseCase(repo, nil, nil)
		if err := uc.ProcessWebhookEvent(context.Background(), ev); err != nil {
			t.Fatalf("expected nil for superseded transition, got %v", err)
		}
	})

	t.Run("duplicate raced at the claim is acknowledged", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)

		repo.EXPECT().GatewayEventSeen(gomock.Any(), "evt-1").Return(false, nil)
		repo.EXPECT().GetBySessionID(gomock.Any(), "sess-1").Return(pendingPayment(), nil)
		repo.EXPECT().ApplyTransition(gomock.Any(), gomock.Any(), entities.PaymentStatusPending, gomock.Any()).
			Return(entities.Payment{}, interfaces.ErrGatewayEventClaimed)

		uc := NewPaymentUseCase(repo, nil, nil)
		if err := uc.ProcessWebhookEvent(context.Background(), completedEvent()); err != nil {
			t.Fatalf("expected nil for raced duplicate, got %v", err)
		}
	})

	t.Run("unsupported event type", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)

		ev := completedEvent()
		ev.Type = "checkout.session.async_payment_succeeded"
		repo.EXPECT().GatewayEventSeen(gomock.Any(), "evt-1").Return(false, nil)
		repo.EXPECT().GetBySessionID(gomock.Any(), "sess-1").Return(pendingPayment(), nil)

		uc := NewPaymentUseCase(repo, nil, nil)
		if err := uc.ProcessWebhookEvent(context.Background(), ev); !errors.Is(err, ErrUnsupportedWebhookEvent) {
			t.Fatalf("expected ErrUnsupportedWebhookEvent, got %v", err)
		}
	})

	t.Run("storage error propagates for redelivery", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)

		boom := errors.New("dynamodb unavailable")
		repo.EXPECT().GatewayEventSeen(gomock.Any(), "evt-1").Return(false, nil)
		repo.EXPECT().GetBySessionID(gomock.Any(), "sess-1").Return(pendingPayment(), nil)
		repo.EXPECT().ApplyTransition(gomock.Any(), gomock.Any(), entities.PaymentStatusPending, gomock.Any()).
			Return(entities.Payment{}, boom)

		uc := NewPaymentUseCase(repo, nil, nil)
		if err := uc.ProcessWebhookEvent(context.Background(), completedEvent()); !errors.Is(err, boom) {
			t.Fatalf("expected storage error to propagate, got %v", err)
		}
	})
}

func succeededPayment() entities.Payment {
	p := pendingPayment()
	p.Status = entities.PaymentStatusSucceeded
	p.GatewayPaymentIntentID = "intent-1"
	return p
}

func TestPaymentUseCase_CreateRefund(t *testing.T) {
	t.Run("empty payment id", func(t *testing.T) {
		uc := NewPaymentUseCase(nil, nil, nil)
		_, err := uc.CreateRefund(context.Background(), " ", nil, "")
		if !errors.Is(err, ErrInvalidPaymentRequest) {
			t.Fatalf("expected ErrInvalidPaymentRequest, got %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		repo.EXPECT().GetByID(gomock.Any(), "missing").Return(entities.Payment{}, nil)

		uc := NewPaymentUseCase(repo, nil, nil)
		_, err := uc.CreateRefund(context.Background(), "missing", nil, "")
		if !errors.Is(err, ErrPaymentNotFound) {
			t.Fatalf("expected ErrPaymentNotFound, got %v", err)
		}
	})

	t.Run("only succeeded payments are refundable", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		repo.EXPECT().GetByID(gomock.Any(), "pay-1").Return(pendingPayment(), nil)

		uc := NewPaymentUseCase(repo, nil, nil)
		_, err := uc.CreateRefund(context.Background(), "pay-1", nil, "")
		if !errors.Is(err, ErrInvalidRefundState) {
			t.Fatalf("expected ErrInvalidRefundState, got %v", err)
		}
	})

	t.Run("refund amount above original is rejected", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		repo.EXPECT().GetByID(gomock.Any(), "pay-1").Return(succeededPayment(), nil)

		too := decimal.NewFromFloat(500)
		uc := NewPaymentUseCase(repo, nil, nil)
		_, err := uc.CreateRefund(context.Background(), "pay-1", &too, "")
		if !errors.Is(err, ErrInvalidRefundAmount) {
			t.Fatalf("expected ErrInvalidRefundAmount, got %v", err)
		}
	})

	t.Run("full refund moves to refunded and publishes", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		gateway := mock_interfaces.NewMockIPaymentGateway(ctrl)
		publisher := mock_interfaces.NewMockIEventPublisher(ctrl)

		p := succeededPayment()
		repo.EXPECT().GetByID(gomock.Any(), "pay-1").Return(p, nil)
		gateway.EXPECT().CreateRefund(gomock.Any(), "intent-1", nil, "requested_by_customer").
			Return(entities.RefundDescriptor{RefundID: "ref-1", IntentID: "intent-1", Amount: p.Amount, Status: "approved"}, nil)
		repo.EXPECT().ApplyTransition(gomock.Any(), gomock.Any(), entities.PaymentStatusSucceeded, gomock.Any()).
			DoAndReturn(func(_ context.Context, updated entities.Payment, _ entities.PaymentStatus, tx entities.PaymentTransaction) (entities.Payment, error) {
				if updated.Status != entities.PaymentStatusRefunded {
					t.Fatalf("expected REFUNDED, got %s", updated.Status)
				}
				if tx.Type != entities.TransactionTypeRefundCreated || !tx.Amount.Equal(p.Amount) {
					t.Fatalf("unexpected refund transaction: %+v", tx)
				}
				return updated, nil
			})
		publisher.EXPECT().Publish(gomock.Any(), interfaces.EventPaymentRefunded, gomock.Any()).Return(nil)

		uc := NewPaymentUseCase(repo, gateway, publisher)
		got, err := uc.CreateRefund(context.Background(), "pay-1", nil, "requested_by_customer")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != entities.PaymentStatusRefunded {
			t.Fatalf("expected REFUNDED, got %s", got.Status)
		}
	})

	t.Run("gateway refund failure leaves payment untouched", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		gateway := mock_interfaces.NewMockIPaymentGateway(ctrl)

		repo.EXPECT().GetByID(gomock.Any(), "pay-1").Return(succeededPayment(), nil)
		gateway.EXPECT().CreateRefund(gomock.Any(), "intent-1", nil, "").
			Return(entities.RefundDescriptor{}, interfaces.ErrGatewayCall)

		uc := NewPaymentUseCase(repo, gateway, nil)
		_, err := uc.CreateRefund(context.Background(), "pay-1", nil, "")
		if !errors.Is(err, interfaces.ErrGatewayCall) {
			t.Fatalf("expected ErrGatewayCall, got %v", err)
		}
	})

	t.Run("concurrent state change maps to invalid refund state", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		repo := mock_interfaces.NewMockIPaymentRepository(ctrl)
		gateway := mock_interfaces.NewMockIPaymentGateway(ctrl)

		p := succeededPayment()
		repo.EXPECT().GetByID(gomock.Any(), "pay-1").Return(p, nil)
		gateway.EXPECT().CreateRefund(gomock.Any(), "intent-1", nil, "").
			Return(entities.RefundDescriptor{RefundID: "ref-1", Amount: p.Amount, Status: "approved"}, nil)
		repo.EXPECT().ApplyTransition(gomock.Any(), gomock.Any(), entities.PaymentStatusSucceeded, gomock.Any()).
			Return(entities.Payment{}, interfaces.ErrPaymentStateChanged)

		uc := NewPaymentUseCase(repo, gateway, nil)
		_, err := uc.CreateRefund(context.Background(), "pay-1", nil, "")
		if !errors.Is(err, ErrInvalidRefundState) {
			t.Fatalf("expected ErrInvalidRefundState, got %v", err)
		}
	})
}
