package service

import (
	"fmt"
	"sync/atomic"
	"testing"

	"fuelengine/internal/config"
	"fuelengine/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int64

// newTestDB 每个测试一个独立的临时库，互不串表
// 用文件库而不是 cache=shared 内存库：共享缓存下事务持有写锁时，
// 连接池里其他连接的读取会直接报 SQLITE_LOCKED（table is locked）
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s/svc_test_%d.db?_busy_timeout=5000", t.TempDir(), atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.Customer{},
		&model.Product{},
		&model.SubProduct{},
		&model.FillingRequest{},
		&model.BalanceTransaction{},
		&model.OutboxMessage{},
	))
	return db
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newTestConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{RequestEvents: "fuel-request-events"},
		},
		Business: config.BusinessConfig{
			OtpTTLSeconds:         60,
			ReserveMaxRetry:       3,
			MaxRetryCount:         3,
			PendingTimeoutMinutes: 30,
			SettleRequiresFullDay: true,
		},
	}
}

var (
	testAdmin      = model.Operator{ID: 1, Role: model.RoleAdmin}
	testSupervisor = model.Operator{ID: 2, Role: model.RoleSupervisor}
	testOperator   = model.Operator{ID: 3, Role: model.RoleOperator}
)
