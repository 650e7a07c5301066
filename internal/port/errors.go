package port

import "errors"

// ErrReceiveTimeout 表示订阅在空闲超时内没有收到消息。
var ErrReceiveTimeout = errors.New("subscription receive timeout")
