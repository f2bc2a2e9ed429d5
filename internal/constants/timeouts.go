package constants

import "time"

// 服务器与存储相关超时 / server and storage timeouts
const (
	// ServerShutdownTimeout 优雅关闭窗口
	ServerShutdownTimeout = 10 * time.Second

	// StorageOpTimeout 单次数据库操作超时
	StorageOpTimeout = 10 * time.Second

	// PersistTimeout 流结束后落库(含摘要级联)的总预算
	PersistTimeout = 60 * time.Second
)
