package timesync

// BusRequester publishes a time-sync-request as a bus event; the transport
// that delivers it to the addressed client (WebSocket, REST push, ...) is
// out of this package's scope, per spec.md §6.
type BusRequester struct {
	publisher Publisher
}

// NewBusRequester creates a BusRequester over publisher.
func NewBusRequester(publisher Publisher) *BusRequester {
	return &BusRequester{publisher: publisher}
}

// RequestTimeSync implements TimeSyncRequester.
func (r *BusRequester) RequestTimeSync(address string) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish("time_sync_request", map[string]any{"address": address})
}
