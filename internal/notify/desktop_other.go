//go:build !darwin

package notify

// NewDesktopSender returns nil on platforms without a desktop
// notification hook; BuildSenders skips nil senders.
func NewDesktopSender() Sender {
	return nil
}
