package reliability

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsTerminalSessionStatus reports statuses after which polling a session is pointless.
func IsTerminalSessionStatus(code int) bool {
	switch code {
	case 401, 403, 404, 410:
		return true
	default:
		return false
	}
}
