package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	ErrOtpExpired  = errors.New("验证码已过期，请重新发送")
	ErrOtpMismatch = errors.New("验证码错误")
	ErrOtpConsumed = errors.New("验证码已使用")
)

// OtpService 处理确认验证码
//
// Pending -> Processing 必须由人工输入服务端签发的一次性验证码确认：
// 6位数字、绑定申请单号、单次使用、到期作废，重发作废旧码
// 任意6位输入一律不认，只认当前在 redis 里的那一个
type OtpService struct {
	redisClient *redis.Client
	ttl         time.Duration
}

func NewOtpService(redisClient *redis.Client, ttlSeconds int) *OtpService {
	if ttlSeconds <= 0 {
		ttlSeconds = 60
	}
	return &OtpService{
		redisClient: redisClient,
		ttl:         time.Duration(ttlSeconds) * time.Second,
	}
}

func otpKey(requestNo string) string {
	return fmt.Sprintf("fuel:otp:request:%s", requestNo)
}

const otpConsumedMark = "USED"

// Issue 签发验证码，重发直接覆盖，旧码随即失效
func (s *OtpService) Issue(ctx context.Context, requestNo string) (string, error) {
	code, err := generateOtpCode()
	if err != nil {
		return "", fmt.Errorf("生成验证码失败: %w", err)
	}

	if err := s.redisClient.Set(ctx, otpKey(requestNo), code, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("保存验证码失败: %w", err)
	}

	return code, nil
}

// Verify 校验并消费验证码
//
// Lua 脚本保证"读取 + 比对 + 置为已用"原子执行：
//   键不存在      -> 已过期（从未签发和已过期对调用方等价，都该重发）
//   值为 USED     -> 已使用（单次有效，一次校验成功只解锁一次处理操作）
//   不匹配        -> 验证码错误
//   匹配          -> 改写为 USED 并保留剩余有效期，窗口内重放可识别
func (s *OtpService) Verify(ctx context.Context, requestNo, code string) error {
	script := `
		local v = redis.call("GET", KEYS[1])
		if not v then
			return "EXPIRED"
		end
		if v == ARGV[2] then
			return "CONSUMED"
		end
		if v ~= ARGV[1] then
			return "MISMATCH"
		end
		local ttl = redis.call("PTTL", KEYS[1])
		if ttl > 0 then
			redis.call("SET", KEYS[1], ARGV[2], "PX", ttl)
		else
			redis.call("DEL", KEYS[1])
		end
		return "OK"
	`
	result, err := s.redisClient.Eval(ctx, script, []string{otpKey(requestNo)}, code, otpConsumedMark).Result()
	if err != nil {
		return fmt.Errorf("校验验证码失败: %w", err)
	}

	switch result {
	case "OK":
		return nil
	case "EXPIRED":
		return ErrOtpExpired
	case "CONSUMED":
		return ErrOtpConsumed
	case "MISMATCH":
		return ErrOtpMismatch
	}
	return fmt.Errorf("校验验证码返回异常: %v", result)
}

// generateOtpCode 用加密随机源生成6位数字码
func generateOtpCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
