package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func testReceipt() Receipt {
	return Receipt{
		Payer:     "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		ServiceID: "svc-art",
		Amount:    "0.25",
		TxHash:    "0xabc123",
		NetworkID: "base-sepolia",
		Nonce:     "nonce-0123456789",
		SettledAt: time.Now().Unix(),
	}
}

func TestReceipt_SaveAndGet(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	r := testReceipt()
	if err := SaveReceipt(ctx, rdb, r); err != nil {
		t.Fatalf("SaveReceipt: %v", err)
	}

	got, err := GetReceipt(ctx, rdb, r.Payer, r.ServiceID)
	if err != nil {
		t.Fatalf("GetReceipt: %v", err)
	}
	if got == nil {
		t.Fatal("receipt not found after save")
	}
	if got.Amount != "0.25" || got.TxHash != "0xabc123" || got.Consumed {
		t.Errorf("receipt mismatch: %+v", got)
	}
}

func TestReceipt_GetMissing(t *testing.T) {
	rdb := newTestRedis(t)
	got, err := GetReceipt(context.Background(), rdb, "0xBBBB", "svc-art")
	if err != nil {
		t.Fatalf("GetReceipt: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing receipt, got %+v", got)
	}
}

// Lookup is case-insensitive on the payer address.
func TestReceipt_PayerCaseInsensitive(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	r := testReceipt()
	if err := SaveReceipt(ctx, rdb, r); err != nil {
		t.Fatalf("SaveReceipt: %v", err)
	}
	got, err := GetReceipt(ctx, rdb, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", r.ServiceID)
	if err != nil || got == nil {
		t.Fatalf("lowercased lookup failed: %v %v", got, err)
	}
}

func TestConsumeReceipt_OnlyOnce(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	r := testReceipt()
	if err := SaveReceipt(ctx, rdb, r); err != nil {
		t.Fatalf("SaveReceipt: %v", err)
	}

	ok, err := ConsumeReceipt(ctx, rdb, r.Payer, r.ServiceID)
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	ok, err = ConsumeReceipt(ctx, rdb, r.Payer, r.ServiceID)
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if ok {
		t.Error("receipt consumed twice")
	}
}

func TestConsumeReceipt_Missing(t *testing.T) {
	rdb := newTestRedis(t)
	ok, err := ConsumeReceipt(context.Background(), rdb, "0xCCCC", "svc-art")
	if err != nil {
		t.Fatalf("ConsumeReceipt: %v", err)
	}
	if ok {
		t.Error("consumed a receipt that does not exist")
	}
}

// Under concurrent redemption attempts, exactly one caller wins.
func TestConsumeReceipt_Concurrent(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	r := testReceipt()
	if err := SaveReceipt(ctx, rdb, r); err != nil {
		t.Fatalf("SaveReceipt: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ConsumeReceipt(ctx, rdb, r.Payer, r.ServiceID)
			if err == nil && ok {
				wins <- true
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Errorf("expected exactly 1 winner, got %d", won)
	}
}
