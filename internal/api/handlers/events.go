package handlers

import (
	"tripwatch/internal/models"
	"tripwatch/pkg/ws"
)

// HubSink 把引擎事件广播到 WebSocket Hub
// 引擎只产出纯数据，消息类型的包装在这一层完成
type HubSink struct {
	hub *ws.Hub
}

// NewHubSink 创建广播出口
func NewHubSink(hub *ws.Hub) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) ProgressUpdate(u models.ProgressUpdate) {
	s.hub.BroadcastMessage(ws.MsgTypeProgressUpdate, u)
}

func (s *HubSink) NextStopProgress(p models.NextStopProgress) {
	s.hub.BroadcastMessage(ws.MsgTypeNextStopProgress, p)
}

func (s *HubSink) TripComplete(state *models.TripState) {
	s.hub.BroadcastMessage(ws.MsgTypeTripComplete, state)
}

func (s *HubSink) LocationError(e models.LocationError) {
	s.hub.BroadcastMessage(ws.MsgTypeLocationError, e)
}
