package service

import (
	"fmt"

	"fuelengine/internal/model"

	"github.com/shopspring/decimal"
)

// EligibilityResult 资格判定结论
// 判定不通过不是异常，是正常业务结论，原因串直接展示给操作员
type EligibilityResult struct {
	Eligible bool
	Reason   string
}

// Evaluate 准入资格判定（纯函数，不做任何 I/O 和变更）
//
// 预付费：可用余额 >= 申请金额
// 后付费：可用余额 >= 申请金额（可用余额 = 授信额度 - 已核销 - 在途冻结）
// 日限额：未结清交易天数 < 天数限额（按天数管控，不看金额）
//
// 三种模式一律只看可用余额，冻结资金已经许给别的申请，绝不能当新额度用
func Evaluate(customer *model.Customer, amount decimal.Decimal) EligibilityResult {
	switch customer.BillingMode {
	case model.BillingModePrepaid:
		if customer.RawBalance.GreaterThanOrEqual(amount) {
			return EligibilityResult{Eligible: true}
		}
		return EligibilityResult{
			Reason: fmt.Sprintf("预付余额不足：需要 %s，可用 %s", amount, customer.RawBalance),
		}

	case model.BillingModePostpaid:
		if customer.RawBalance.GreaterThanOrEqual(amount) {
			return EligibilityResult{Eligible: true}
		}
		return EligibilityResult{
			Reason: fmt.Sprintf("授信额度不足：需要 %s，可用 %s（授信 %s，已用 %s）",
				amount, customer.RawBalance, customer.CreditLimit, customer.UsedAmount),
		}

	case model.BillingModeDayLimit:
		if customer.DaysElapsed < customer.DayLimit {
			return EligibilityResult{Eligible: true}
		}
		return EligibilityResult{
			Reason: fmt.Sprintf("日限额超限：未结清 %d 天，限额 %d 天，请先结清最早欠款", customer.DaysElapsed, customer.DayLimit),
		}
	}

	return EligibilityResult{
		Reason: fmt.Sprintf("未知计费模式: %s", customer.BillingMode),
	}
}
