package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type lockKey struct{}

type heldLock struct {
	customerID snowflake.ID
	tx         *gorm.DB
}

// ContextWithLock marks ctx as running under customerID's lock inside tx.
func ContextWithLock(ctx context.Context, customerID snowflake.ID, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, lockKey{}, heldLock{customerID: customerID, tx: tx})
}

// HoldsLock reports whether ctx was issued by WithCustomerLock for customerID.
func HoldsLock(ctx context.Context, customerID snowflake.ID) bool {
	held, ok := ctx.Value(lockKey{}).(heldLock)
	return ok && customerID != 0 && held.customerID == customerID
}

// LockedTx returns the transaction holding the lock carried by ctx, if any.
func LockedTx(ctx context.Context) (snowflake.ID, *gorm.DB, bool) {
	held, ok := ctx.Value(lockKey{}).(heldLock)
	if !ok {
		return 0, nil, false
	}
	return held.customerID, held.tx, true
}
