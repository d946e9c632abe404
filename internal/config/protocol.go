package config

import "time"

const (
	// Live channel events
	EventJoin           = "join"
	EventSendMessage    = "sendMessage"
	EventReceiveMessage = "receiveMessage"
	EventAck            = "ack"

	// Ack statuses
	AckStatusOK    = "ok"
	AckStatusError = "error"

	// Websocket keepalive
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	MaxMessageSize = 64 * 1024
	SendBuffer     = 64

	// Recently seen message ids kept for echo suppression
	DedupeWindow = 1024

	// History API paths, relative to the API base URL
	PathConversations = "/user/chat/conversations"
	PathMessages      = "/user/chat/conversations/{id}/messages"
	PathMe            = "/auth/me"
)
