// Package fetch 定义消息拉取服务的消费契约及其 HTTP 实现。
package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/joshyvodetaene/chatual-sub002/model"
)

// DefaultPageSize 默认分页大小
const DefaultPageSize = 50

// Service 消息拉取服务：按房间返回分页的消息历史
type Service interface {
	// FetchInitial 返回房间最新的一页消息
	FetchInitial(ctx context.Context, roomID string) (*model.Page, error)
	// FetchOlder 返回 cursor 之前更早的一页消息，limit 为页大小提示
	FetchOlder(ctx context.Context, roomID, cursor string, limit int) (*model.Page, error)
}

// Error 拉取失败：网络错误、非成功状态码或载荷解析失败。
// 与"没有更早的页"（Page.HasMore == false）严格区分，
// 对调用方而言是可重试的瞬时错误。
type Error struct {
	Op     string // "fetch_initial" / "fetch_older"
	RoomID string
	Status int // HTTP 状态码，网络层失败时为 0
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s room %s: status %d: %v", e.Op, e.RoomID, e.Status, e.Err)
	}
	return fmt.Sprintf("%s room %s: %v", e.Op, e.RoomID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError 判断 err 是否为拉取错误
func AsError(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
