package worker

// 页面与 worker 之间的消息类型。
const (
	MessageSkipWaiting  = "SKIP_WAITING"
	MessageActivated    = "SW_ACTIVATED"
	MessageNotification = "NOTIFICATION"
	MessageOpenWindow   = "OPEN_WINDOW"
)

// Message 是页面 ↔ worker 的消息外形，唯一必需字段为 type。
type Message struct {
	Type         string        `json:"type"`
	Version      string        `json:"version,omitempty"`
	URL          string        `json:"url,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

// Notification 描述 push 事件展示的通知。
type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon"`
	Badge   string               `json:"badge"`
	Vibrate []int                `json:"vibrate,omitempty"`
	Data    map[string]any       `json:"data,omitempty"`
	Actions []NotificationAction `json:"actions"`
}

// NotificationAction 是通知上的一个按钮。
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}
