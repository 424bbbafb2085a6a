package response

var messages = map[ErrCode]string{
	ErrCodeSessionNotStarted:  "The stream session has not started yet.",
	ErrCodeStreamUnavailable:  "Live scans are not enabled on this server.",
	ErrCodeChannelNotFound:    "Channel %s is not part of the scan list.",
	ErrCodeArchiveUnavailable: "No state directory is configured, sessions are not archived.",
	ErrCodeSessionNotFound:    "Session %s is not in the archive.",
}

var ErrSessionNotStarted = &responseError{
	Code:    ErrCodeSessionNotStarted,
	Message: messages[ErrCodeSessionNotStarted],
}

var ErrStreamUnavailable = &responseError{
	Code:    ErrCodeStreamUnavailable,
	Message: messages[ErrCodeStreamUnavailable],
}

var ErrArchiveUnavailable = &responseError{
	Code:    ErrCodeArchiveUnavailable,
	Message: messages[ErrCodeArchiveUnavailable],
}
