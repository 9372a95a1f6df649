package payment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// receiptTTL bounds how long a settled-but-unclaimed payment stays redeemable.
const receiptTTL = 24 * time.Hour

// Receipt is the archived record of a settled payment. A receipt is written
// once at settlement, consumed at most once by mint admission, and expires
// after 24h either way.
type Receipt struct {
	Payer     string
	ServiceID string
	Amount    string
	TxHash    string
	NetworkID string
	Nonce     string
	SettledAt int64
	Consumed  bool
}

func receiptKey(payer, serviceID string) string {
	return fmt.Sprintf(ReceiptKeyFmt, strings.ToLower(payer), serviceID)
}

func SaveReceipt(ctx context.Context, rdb *redis.Client, r Receipt) error {
	key := receiptKey(r.Payer, r.ServiceID)
	if err := rdb.HSet(ctx, key,
		"payer", strings.ToLower(r.Payer),
		"service_id", r.ServiceID,
		"amount", r.Amount,
		"tx_hash", r.TxHash,
		"network_id", r.NetworkID,
		"nonce", r.Nonce,
		"settled_at", r.SettledAt,
		"consumed", strconv.FormatBool(r.Consumed),
	).Err(); err != nil {
		return err
	}
	return rdb.Expire(ctx, key, receiptTTL).Err()
}

func GetReceipt(ctx context.Context, rdb *redis.Client, payer, serviceID string) (*Receipt, error) {
	vals, err := rdb.HGetAll(ctx, receiptKey(payer, serviceID)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return receiptFromMap(vals), nil
}

// ConsumeReceipt marks a receipt used by mint admission. Returns false when no
// unconsumed receipt exists. The check-and-mark runs in a watch-backed
// transaction so two concurrent mint requests cannot both redeem it.
func ConsumeReceipt(ctx context.Context, rdb *redis.Client, payer, serviceID string) (bool, error) {
	key := receiptKey(payer, serviceID)
	var consumed bool
	err := rdb.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(vals) == 0 || vals["consumed"] == "true" {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "consumed", "true")
			return nil
		})
		if err == nil {
			consumed = true
		}
		return err
	}, key)
	if err != nil {
		return false, err
	}
	return consumed, nil
}

// ReleaseReceipt puts a consumed receipt back, for when mint admission
// consumed it but could not enqueue the item.
func ReleaseReceipt(ctx context.Context, rdb *redis.Client, payer, serviceID string) error {
	return rdb.HSet(ctx, receiptKey(payer, serviceID), "consumed", "false").Err()
}

func receiptFromMap(m map[string]string) *Receipt {
	settledAt, _ := strconv.ParseInt(m["settled_at"], 10, 64)
	return &Receipt{
		Payer:     m["payer"],
		ServiceID: m["service_id"],
		Amount:    m["amount"],
		TxHash:    m["tx_hash"],
		NetworkID: m["network_id"],
		Nonce:     m["nonce"],
		SettledAt: settledAt,
		Consumed:  m["consumed"] == "true",
	}
}
