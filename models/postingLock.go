package models

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireRowLock serializes writers on a logical key across instances using
// MySQL advisory locks. GET_LOCK is connection-scoped, so this must be
// called on the same *gorm.DB transaction that performs the writes.
func AcquireRowLock(tx *gorm.DB, key string) error {
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", key).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire lock for key=%s", key)
	}
	return nil
}

func ReleaseRowLock(tx *gorm.DB, key string) {
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", key).Scan(&_ok).Error
}

func orderLockKey(orderId int) string {
	return fmt.Sprintf("order:%d", orderId)
}

func stockLockKey(productId int, warehouseId int) string {
	return fmt.Sprintf("stock:%d:%d", productId, warehouseId)
}

func invoiceLockKey(sellerId int, warehouseId int) string {
	return fmt.Sprintf("invoice:%d:%d", sellerId, warehouseId)
}
