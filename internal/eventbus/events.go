package eventbus

import "time"

// Event types published by subwatch components.
const (
	TypeCycleCompleted   = "cycle.completed"
	TypeCycleFailed      = "cycle.failed"
	TypeNotified         = "notify.emitted"
	TypeCatalogRefreshed = "catalog.refreshed"
	TypeConfigReloaded   = "config.reloaded"

	TypeDeliverySent    = "notifier.sent"
	TypeDeliveryFailed  = "notifier.failed"
	TypeDeliveryDropped = "notifier.dropped"
)

// CycleInfo is the Data of cycle.completed and cycle.failed.
type CycleInfo struct {
	Session  string        `json:"session"`
	Cycle    uint64        `json:"cycle"`
	Accounts int           `json:"accounts"`
	Added    int           `json:"added"`
	Total    int           `json:"total"`
	Pruned   int           `json:"pruned"`
	Took     time.Duration `json:"took"`
	Class    string        `json:"class,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// DeliveryInfo is the Data of notifier.* events.
type DeliveryInfo struct {
	Channel string `json:"channel"`
	ChatID  int64  `json:"chat_id"`
	Account string `json:"account"`
	Problem string `json:"problem"`
	Error   string `json:"error,omitempty"`
}
