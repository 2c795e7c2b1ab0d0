package sshsession

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrConnectFailed        = errors.New("connect failed")
	ErrChannelInit          = errors.New("channel initialization failed")
	ErrRateLimited          = errors.New("rate limited")
	ErrInvalidParams        = errors.New("invalid connection parameters")
)
