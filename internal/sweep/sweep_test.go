package sweep

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lumo-chat/lumo_pay/internal/account"
	"github.com/lumo-chat/lumo_pay/internal/chain"
	"github.com/lumo-chat/lumo_pay/internal/distribution"
	"github.com/lumo-chat/lumo_pay/internal/ledger"
	"github.com/lumo-chat/lumo_pay/internal/transfer"
)

func TestSweepRefundsBothQueues(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	led := ledger.NewInMemory()
	keys, err := chain.NewKeystore(chain.NewMemoryKeyRepository(), bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("new keystore: %v", err)
	}
	accounts := account.NewService(account.NewMemoryRepository(), led, keys)
	transfers := transfer.NewService(transfer.NewMemoryRepository(led), accounts, nil, logger, time.Hour)
	distributions := distribution.NewService(distribution.NewMemoryRepository(led), accounts, nil, logger, time.Hour)

	acct, err := accounts.Create(ctx, account.CreateInput{OwnerID: uuid.NewString(), Asset: "LUM"})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	ledger.SeedBalance(led, ledger.AccountCode(acct.ID, "LUM"), 2000)

	if _, err := transfers.Create(ctx, transfer.CreateInput{
		SenderID: acct.ID, ConversationID: "c", Asset: "LUM", Amount: 500,
	}); err != nil {
		t.Fatalf("create transfer: %v", err)
	}
	if _, err := distributions.Create(ctx, distribution.CreateInput{
		CreatorID: acct.ID, ConversationID: "c", Asset: "LUM", TotalAmount: 600, Count: 3, Policy: distribution.PolicyEqual,
	}); err != nil {
		t.Fatalf("create distribution: %v", err)
	}

	runner := NewRunner(transfers, distributions, time.Hour, logger)
	cutoff := time.Now().Add(2 * time.Hour)

	runner.Sweep(ctx, cutoff)
	balance, err := led.Balance(ctx, ledger.AccountCode(acct.ID, "LUM"))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 2000 {
		t.Fatalf("balance = %d, want everything refunded", balance)
	}

	// Nothing left for a second pass.
	runner.Sweep(ctx, cutoff)
	balance, _ = led.Balance(ctx, ledger.AccountCode(acct.ID, "LUM"))
	if balance != 2000 {
		t.Fatalf("balance changed on idempotent re-sweep: %d", balance)
	}
}
