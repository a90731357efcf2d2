package domain

// NotificationKind identifies the message sent to a tenant owner.
type NotificationKind string

const (
	NotificationFreeStarted NotificationKind = "subscription.free_started"
	NotificationLocked      NotificationKind = "subscription.locked"
	NotificationActivated   NotificationKind = "subscription.activated"
)

// NotificationFor returns the notification that follows a committed lifecycle event.
func NotificationFor(event Event) (NotificationKind, bool) {
	switch event {
	case EventEnterFree:
		return NotificationFreeStarted, true
	case EventLock:
		return NotificationLocked, true
	case EventActivate:
		return NotificationActivated, true
	}
	return "", false
}
