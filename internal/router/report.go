package router

import "github.com/samber/lo"

// Target kinds of a broadcast
const (
	TargetGroup = "group"
	TargetUser  = "user"
)

// Failure reasons recorded per recipient
const (
	ReasonConnectionClosed = "connection closed"
	ReasonTransportError   = "transport error"
	ReasonTimeout          = "timeout"
)

// Delivery is the outcome of dispatching one payload to one connection
type Delivery struct {
	ConnectionID string `json:"connection_id"`
	Delivered    bool   `json:"delivered"`
	Reason       string `json:"reason,omitempty"`
	Err          error  `json:"-"`
}

// Report enumerates the per-connection outcome of a broadcast, ordered by
// connection ID
type Report struct {
	Kind       string     `json:"kind"`
	Target     string     `json:"target"`
	Deliveries []Delivery `json:"deliveries"`
}

// Attempted is the number of recipients in the broadcast snapshot
func (r *Report) Attempted() int {
	if r == nil {
		return 0
	}
	return len(r.Deliveries)
}

// DeliveredCount is the number of successful dispatches
func (r *Report) DeliveredCount() int {
	if r == nil {
		return 0
	}
	return lo.CountBy(r.Deliveries, func(d Delivery) bool { return d.Delivered })
}

// Failures returns the failed deliveries
func (r *Report) Failures() []Delivery {
	if r == nil {
		return nil
	}
	return lo.Filter(r.Deliveries, func(d Delivery, _ int) bool { return !d.Delivered })
}

// Recipients returns the IDs of connections that received the payload
func (r *Report) Recipients() []string {
	if r == nil {
		return nil
	}
	return lo.FilterMap(r.Deliveries, func(d Delivery, _ int) (string, bool) {
		return d.ConnectionID, d.Delivered
	})
}
