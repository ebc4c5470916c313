package models

import "errors"

var (
	// ErrRecordNotFound 入库记录不存在
	ErrRecordNotFound = errors.New("ingest record not found")

	// ErrInvalidStatus 无效的记录状态
	ErrInvalidStatus = errors.New("invalid ingest status")

	// ErrInvalidTransition 不允许的状态转换
	ErrInvalidTransition = errors.New("invalid ingest status transition")
)
