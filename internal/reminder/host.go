package reminder

// Alert is a modal with a single confirmation action.
type Alert struct {
	Title       string
	Body        string
	ConfirmText string
}

// Alerter shows an alert. done, when non-nil, is called once the alert has
// been presented successfully.
type Alerter interface {
	ShowAlert(a Alert, done func())
}

// Haptics is fire-and-forget feedback.
type Haptics interface {
	Vibrate()
}

// LocalNotification is handed to the platform's notification center.
// Payload carries the schedule id under "scheduleId".
type LocalNotification struct {
	Title   string
	Body    string
	Payload map[string]string
}

type LocalNotifier interface {
	CreateNotification(n LocalNotification)
}

// Host bundles the optional capabilities of the running environment. A nil
// field means the capability is absent and its calls are skipped.
type Host struct {
	Alerter  Alerter
	Haptics  Haptics
	Notifier LocalNotifier
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(a Alert, done func())

func (f AlerterFunc) ShowAlert(a Alert, done func()) { f(a, done) }

// HapticsFunc adapts a function to Haptics.
type HapticsFunc func()

func (f HapticsFunc) Vibrate() { f() }

// LocalNotifierFunc adapts a function to LocalNotifier.
type LocalNotifierFunc func(n LocalNotification)

func (f LocalNotifierFunc) CreateNotification(n LocalNotification) { f(n) }
