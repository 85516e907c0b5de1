package supervisor

import (
	"feedsync/client/internal/channel"
	"feedsync/client/internal/model"
)

// Reduce 只根据最新的通道事件推导连接状态，不触发外部调用。
//
// 状态转移：
//
//	disconnected --connect attempt--> connecting   (由 Connect 直接设置)
//	connecting|connected --error--> errored
//	connecting --connect--> connected
//	connected --disconnect--> disconnected
//
// 通知事件不改变状态。
func Reduce(state model.ConnectionState, ev channel.Event) model.ConnectionState {
	switch ev.Kind {
	case channel.EventConnect:
		return model.StateConnected
	case channel.EventDisconnect:
		return model.StateDisconnected
	case channel.EventError:
		if state == model.StateConnecting || state == model.StateConnected {
			return model.StateErrored
		}
		return state
	default:
		return state
	}
}
