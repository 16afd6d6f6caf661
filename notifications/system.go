package notifications

import (
	"github.com/agnosto/instawebhooks/logger"
	"github.com/gen2brain/beeep"
)

var notify = func(title, message string) error {
	return beeep.Notify(title, message, "")
}

// SystemNotifier raises desktop notifications for conditions that need the
// operator, such as an expired session.
type SystemNotifier struct {
	Enabled bool
}

func NewSystemNotifier(enabled bool) *SystemNotifier {
	return &SystemNotifier{Enabled: enabled}
}

func (s *SystemNotifier) AlertFatal(title, message string) {
	if s == nil || !s.Enabled {
		return
	}
	if err := notify(title, message); err != nil {
		logger.Logger.Printf("Failed to send system notification: %v", err)
	}
}
