package port

import "github.com/Wyydra/loop/internal/core/domain"

// MediaDriver runs the real-time media session of a call. Results are
// reported back as actions, not return values.
type MediaDriver interface {
	ConnectSession(params domain.SessionParams)
	DisconnectSession()
	RetryPublishWithoutVideo()
}
