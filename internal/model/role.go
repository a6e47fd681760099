package model

// ============================================================================
// 角色与操作权限
// ============================================================================
//
// 权限用类型化的 角色 × 操作 布尔表表达，不用字符串拼 key 的动态权限表，
// 会话建立时解析一次角色即可

// Role 操作员角色
type Role string

const (
	RoleAdmin      Role = "ADMIN"      // 管理员：全部操作 + 余额可见
	RoleSupervisor Role = "SUPERVISOR" // 主管：申请全流程 + 余额可见
	RoleOperator   Role = "OPERATOR"   // 受限操作员：只能推进 处理 -> 完成，不可取消，余额不可见
)

func ValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleSupervisor, RoleOperator:
		return true
	}
	return false
}

// Operation 引擎对外的操作枚举
type Operation string

const (
	OpCreateRequest   Operation = "CREATE_REQUEST"
	OpUpdateQuantity  Operation = "UPDATE_QUANTITY"
	OpSendOtp         Operation = "SEND_OTP"
	OpBeginProcessing Operation = "BEGIN_PROCESSING"
	OpCompleteRequest Operation = "COMPLETE_REQUEST"
	OpCancelRequest   Operation = "CANCEL_REQUEST"
	OpViewBalance     Operation = "VIEW_BALANCE"
	OpManageCustomer  Operation = "MANAGE_CUSTOMER" // 充值、切换计费模式、结清欠款
)

var roleCapabilities = map[Role]map[Operation]bool{
	RoleAdmin: {
		OpCreateRequest:   true,
		OpUpdateQuantity:  true,
		OpSendOtp:         true,
		OpBeginProcessing: true,
		OpCompleteRequest: true,
		OpCancelRequest:   true,
		OpViewBalance:     true,
		OpManageCustomer:  true,
	},
	RoleSupervisor: {
		OpCreateRequest:   true,
		OpUpdateQuantity:  true,
		OpSendOtp:         true,
		OpBeginProcessing: true,
		OpCompleteRequest: true,
		OpCancelRequest:   true,
		OpViewBalance:     true,
	},
	RoleOperator: {
		OpCreateRequest:   true,
		OpSendOtp:         true,
		OpBeginProcessing: true,
		OpCompleteRequest: true,
	},
}

// CanPerform 判断角色是否允许执行某操作
func CanPerform(role Role, op Operation) bool {
	caps, ok := roleCapabilities[role]
	if !ok {
		return false
	}
	return caps[op]
}

// Operator 经身份服务解析后的操作员
type Operator struct {
	ID   int64
	Role Role
}
