// Package live 实现实时事件源：通过 WebSocket 接收服务端推送的
// 新消息事件。事件按至多一次投递，端到端可能重复，去重由
// 合并引擎兜底；非法载荷在本包边界直接丢弃。
package live

import (
	"context"

	"github.com/joshyvodetaene/chatual-sub002/model"
)

// Source 实时事件源
type Source interface {
	// Events 返回事件通道，源关闭后通道关闭
	Events() <-chan *model.MessageCreated
	// Run 建立连接并持续接收事件，断线自动重连，ctx 取消后返回
	Run(ctx context.Context) error
	// Close 关闭事件源
	Close() error
}
