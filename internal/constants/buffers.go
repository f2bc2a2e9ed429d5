package constants

// SSE 流式缓冲区大小 / SSE streaming buffer sizes
const (
	// SSEScannerBufferSize 初始扫描缓冲区 64KB
	SSEScannerBufferSize = 64 * 1024

	// SSEScannerMaxSize 单行最大 4MB，超大 delta 行也能透传
	SSEScannerMaxSize = 4 * 1024 * 1024
)
