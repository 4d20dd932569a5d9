package feed

// RequestCode is the vendor's JSON control-message discriminator.
type RequestCode int

const (
	// RequestSubscribe (15) subscribes the connection to Full packets.
	// spec.md §9 Open Question (ii): this code is also used elsewhere for
	// Ticker-only subscription; this client standardizes on one policy —
	// always request Full, accepting Quote/Ticker frames as fallbacks
	// when the vendor degrades the subscription server-side.
	RequestSubscribe RequestCode = 15
	// RequestSubscribeDepth (23) subscribes the depth connection to
	// 20-level ladders.
	RequestSubscribeDepth RequestCode = 23
	// RequestUnsubscribe (12) unsubscribes the given instruments.
	RequestUnsubscribe RequestCode = 12
)

const (
	maxInstrumentsPerRequest = 100
	maxInstrumentsTotal      = 5000
	maxDepthInstruments      = 50
)

// InstrumentRef identifies a subscribed instrument on the wire.
type InstrumentRef struct {
	ExchangeSegment string `json:"ExchangeSegment"`
	SecurityID      string `json:"SecurityId"`
}

// ControlMessage is the JSON envelope sent to the vendor to (un)subscribe.
type ControlMessage struct {
	RequestCode     RequestCode     `json:"RequestCode"`
	InstrumentCount int             `json:"InstrumentCount"`
	InstrumentList  []InstrumentRef `json:"InstrumentList"`
}

func newSubscribeMessage(code RequestCode, refs []InstrumentRef) ControlMessage {
	return ControlMessage{
		RequestCode:     code,
		InstrumentCount: len(refs),
		InstrumentList:  refs,
	}
}

// chunkInstruments splits refs into vendor-sized batches (<=100 per Full
// subscription request, <=50 per depth request).
func chunkInstruments(refs []InstrumentRef, batchSize int) [][]InstrumentRef {
	if batchSize <= 0 {
		batchSize = maxInstrumentsPerRequest
	}
	var batches [][]InstrumentRef
	for i := 0; i < len(refs); i += batchSize {
		end := i + batchSize
		if end > len(refs) {
			end = len(refs)
		}
		batches = append(batches, refs[i:end])
	}
	return batches
}
