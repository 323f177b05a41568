package shared

import "fmt"

// ApprovalLockKey builds redis keys guarding order approval across replicas.
func ApprovalLockKey(orderID int64) string {
	return fmt.Sprintf("orders:approve:%d", orderID)
}
