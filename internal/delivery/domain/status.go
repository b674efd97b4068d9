package domain

// DeliveryStatus is the lifecycle state of a delivery order.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryAssigned  DeliveryStatus = "ASSIGNED"
	DeliveryShipping  DeliveryStatus = "SHIPPING"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
	DeliveryCancelled DeliveryStatus = "CANCELLED"
)

// transitions is the closed state machine: current status to the set of
// statuses it may move to. DELIVERED and CANCELLED are terminal.
var transitions = map[DeliveryStatus]map[DeliveryStatus]bool{
	DeliveryPending:   {DeliveryAssigned: true, DeliveryCancelled: true},
	DeliveryAssigned:  {DeliveryPending: true, DeliveryCancelled: true, DeliveryShipping: true},
	DeliveryShipping:  {DeliveryDelivered: true, DeliveryFailed: true, DeliveryCancelled: true},
	DeliveryFailed:    {DeliveryAssigned: true, DeliveryShipping: true, DeliveryCancelled: true},
	DeliveryDelivered: {},
	DeliveryCancelled: {},
}

func (s DeliveryStatus) CanTransition(to DeliveryStatus) bool {
	return transitions[s][to]
}

func (s DeliveryStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func (s DeliveryStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// MaxActiveDeliveries caps how many deliveries a shipper may carry at once.
const MaxActiveDeliveries = 10

// ActiveStatuses count against a shipper's load.
var ActiveStatuses = []DeliveryStatus{DeliveryAssigned, DeliveryShipping, DeliveryFailed}

// ReassignableStatuses may be handed to a (different) shipper.
var ReassignableStatuses = []DeliveryStatus{DeliveryPending, DeliveryAssigned, DeliveryFailed}

func Reassignable(s DeliveryStatus) bool {
	for _, r := range ReassignableStatuses {
		if s == r {
			return true
		}
	}
	return false
}
