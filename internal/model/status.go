package model

type OrderStatus string

const (
	OrderStatusCreated            OrderStatus = "Created"
	OrderStatusFulfilled          OrderStatus = "Fulfilled"
	OrderStatusSentUnlock         OrderStatus = "SentUnlock"
	OrderStatusClaimedUnlock      OrderStatus = "ClaimedUnlock"
	OrderStatusSentOrderCancel    OrderStatus = "SentOrderCancel"
	OrderStatusOrderCancelled     OrderStatus = "OrderCancelled"
	OrderStatusClaimedOrderCancel OrderStatus = "ClaimedOrderCancel"
)

var orderStatuses = map[OrderStatus]bool{
	OrderStatusCreated:            false,
	OrderStatusFulfilled:          true,
	OrderStatusSentUnlock:         false,
	OrderStatusClaimedUnlock:      true,
	OrderStatusSentOrderCancel:    false,
	OrderStatusOrderCancelled:     true,
	OrderStatusClaimedOrderCancel: true,
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:         {OrderStatusFulfilled, OrderStatusSentOrderCancel, OrderStatusSentUnlock},
	OrderStatusSentOrderCancel: {OrderStatusOrderCancelled, OrderStatusClaimedOrderCancel},
	OrderStatusSentUnlock:      {OrderStatusClaimedUnlock},
}

func (s OrderStatus) Valid() bool {
	_, ok := orderStatuses[s]
	return ok
}

func (s OrderStatus) Terminal() bool {
	return orderStatuses[s]
}

// CanTransition reports whether to is reachable from s in the order state
// machine, skipping intermediate states the poller may have missed.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	if s == to {
		return true
	}
	if s.Terminal() {
		return false
	}
	for _, next := range orderTransitions[s] {
		if next == to || next.CanTransition(to) {
			return true
		}
	}
	return false
}
