package hub

import (
	"strings"
	"time"
)

// envelope is the JSON frame sent to subscribers, one per fan-out event
// or pull response.
type envelope struct {
	Topic   string    `json:"topic"`
	Payload any       `json:"payload"`
	SentAt  time.Time `json:"sentAt"`
}

// subscribableTopics are the topics a client may subscribe to
// (spec.md §4.8).
var subscribableTopics = map[string]bool{
	TopicTicks:     true,
	TopicCandles:   true,
	TopicSignals:   true,
	TopicPositions: true,
	TopicPortfolio: true,
}

// requestableTopics are the one-shot pulls a client may ask for
// (spec.md §4.8).
var requestableTopics = map[string]bool{
	TopicPortfolio:   true,
	TopicPositions:   true,
	"strategies":     true,
}

// command is a parsed inbound frame: "subscribe:ticks" or
// "request:portfolio" (spec.md §4.8's literal command syntax).
type command struct {
	verb  string
	topic string
}

func parseCommand(raw string) (command, bool) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return command{}, false
	}
	verb, topic := parts[0], parts[1]
	switch verb {
	case "subscribe":
		if !subscribableTopics[topic] {
			return command{}, false
		}
	case "request":
		if !requestableTopics[topic] {
			return command{}, false
		}
	default:
		return command{}, false
	}
	return command{verb: verb, topic: topic}, true
}
