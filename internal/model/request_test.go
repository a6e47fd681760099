package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		allowed bool
	}{
		{"待处理可以进入处理", RequestStatusPending, RequestStatusProcessing, true},
		{"待处理可以直接取消", RequestStatusPending, RequestStatusCancelled, true},
		{"处理中可以完成", RequestStatusProcessing, RequestStatusCompleted, true},
		{"处理中可以取消", RequestStatusProcessing, RequestStatusCancelled, true},
		{"待处理不能直接完成", RequestStatusPending, RequestStatusCompleted, false},
		{"处理中不能退回待处理", RequestStatusProcessing, RequestStatusPending, false},
		{"已完成是终态", RequestStatusCompleted, RequestStatusCancelled, false},
		{"已取消是终态", RequestStatusCancelled, RequestStatusProcessing, false},
		{"已取消不能复活", RequestStatusCancelled, RequestStatusPending, false},
		{"未知状态一律拒绝", "UNKNOWN", RequestStatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransitionTo(tt.from, tt.to))
		})
	}
}

func TestTerminalStatusHasNoTransitions(t *testing.T) {
	// 终态在流转表里没有出边
	_, ok := ValidStatusTransitions[RequestStatusCompleted]
	assert.False(t, ok)
	_, ok = ValidStatusTransitions[RequestStatusCancelled]
	assert.False(t, ok)
}
