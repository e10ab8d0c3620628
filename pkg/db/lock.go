package db

import (
	"context"
	"fmt"
	"hash/fnv"

	"gorm.io/gorm"
)

// AdvisoryLockKey derives the session advisory lock key guarding the
// decide-and-create step for a (tenant, marketplace, job) triple. FNV-1a over
// the pipe-joined triple keeps the key stable across processes; the separator
// prevents ("a", "bc") and ("ab", "c") from colliding.
func AdvisoryLockKey(tenantID, marketplace, jobCode string) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s", tenantID, marketplace, jobCode)
	return int64(h.Sum64())
}

// TryAdvisoryLock attempts to take a session-scoped Postgres advisory lock.
// It never blocks; false means another session holds the key.
func TryAdvisoryLock(ctx context.Context, conn *gorm.DB, key int64) (bool, error) {
	var acquired bool
	err := conn.WithContext(ctx).
		Raw("SELECT pg_try_advisory_lock(?)", key).
		Scan(&acquired).Error
	if err != nil {
		return false, fmt.Errorf("try advisory lock %d: %w", key, err)
	}
	return acquired, nil
}

// AdvisoryUnlock releases a session advisory lock taken via TryAdvisoryLock.
func AdvisoryUnlock(ctx context.Context, conn *gorm.DB, key int64) error {
	var released bool
	err := conn.WithContext(ctx).
		Raw("SELECT pg_advisory_unlock(?)", key).
		Scan(&released).Error
	if err != nil {
		return fmt.Errorf("advisory unlock %d: %w", key, err)
	}
	if !released {
		return fmt.Errorf("advisory unlock %d: lock was not held by this session", key)
	}
	return nil
}
