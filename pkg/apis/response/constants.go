package response

type ErrCode int

const (
	_                         ErrCode = 10000 + iota
	ErrCodeSessionNotStarted          // 10001
	ErrCodeStreamUnavailable          // 10002
	ErrCodeChannelNotFound            // 10003
	ErrCodeArchiveUnavailable         // 10004
	ErrCodeSessionNotFound            // 10005
)

// New codes go at the end of the enum with their number in a comment, and
// their message goes into messages in the same order.
