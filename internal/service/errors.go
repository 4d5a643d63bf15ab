package service

import "errors"

// 行程引擎层错误
// 地址/路线/定位相关错误由各自的客户端包定义并原样向上传播：
// geocoder.ErrInvalidAddress / geocoder.ErrAddressNotFound、
// osrm.ErrRouteUnavailable、position.Err*、fetch.ErrTemporarilyUnavailable
var (
	// ErrAlreadyActive 已有行程未结束（含 stopped/completed 未 reset 的情况）
	ErrAlreadyActive = errors.New("trip already active")
	// ErrNoActiveTrip 当前没有进行中的行程
	ErrNoActiveTrip = errors.New("no active trip")
	// ErrOperationInProgress 已有网络操作挂起，拒绝并发命令
	ErrOperationInProgress = errors.New("operation in progress")
)
