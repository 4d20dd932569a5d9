// Package optionchain polls a REST option-chain analytics endpoint and
// feeds the resulting sentiment into the multi-confluence strategy
// (spec.md §9 OQ1): this stream is an optional external collaborator,
// not part of the binary feed protocol, so its absence or failure only
// degrades that strategy's confluence score.
//
// The polling/circuit-breaker shape is grounded on
// libs/marketdata/provider_alpaca.go's AlpacaProvider, which wraps
// every outbound call in a libs/resilience.CircuitBreaker; the REST
// client itself is built on go-resty/resty/v2, the pack's HTTP client
// of choice.
package optionchain

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/eventbus"
	"github.com/Krishnaraj-Irkal/flowsense/internal/obslog"
	"github.com/Krishnaraj-Irkal/flowsense/internal/strategy"
	"github.com/Krishnaraj-Irkal/flowsense/libs/resilience"
)

// minInterval enforces spec.md §5's floor of one call per instrument
// per 3 seconds.
const minInterval = 3 * time.Second

// Sink receives sentiment updates; satisfied by *strategy.Confluence.
type Sink interface {
	UpdateOptionChain(securityID string, sentiment strategy.OptionChainSentiment)
}

// chainResponse is the wire shape returned by the analytics endpoint.
type chainResponse struct {
	Direction string  `json:"direction"`
	Strength  float64 `json:"strength"`
}

// Poller periodically fetches option-chain sentiment for a fixed set
// of instruments and forwards it to a Sink, publishing each read on
// the event bus for hub/observability consumers.
type Poller struct {
	client  *resty.Client
	cb      *resilience.CircuitBreaker
	limiter *rate.Limiter
	baseURL string
	bus     *eventbus.Bus
	sink    Sink

	interval    time.Duration
	instruments []domain.Instrument
}

// New builds a poller against baseURL, polling every pollInterval (no
// faster than one call per instrument per 3s, regardless of what's
// requested).
func New(baseURL string, pollInterval time.Duration, instruments []domain.Instrument, bus *eventbus.Bus, sink Sink) *Poller {
	if pollInterval < minInterval {
		pollInterval = minInterval
	}
	return &Poller{
		client:      resty.New().SetTimeout(5 * time.Second),
		cb:          resilience.NewCircuitBreaker(resilience.DefaultConfig("option-chain")),
		limiter:     rate.NewLimiter(rate.Every(minInterval), 1),
		baseURL:     baseURL,
		bus:         bus,
		sink:        sink,
		interval:    pollInterval,
		instruments: instruments,
	}
}

// Run polls every instrument on a fixed cadence until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	for _, inst := range p.instruments {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		sentiment, err := p.fetch(ctx, inst.SecurityID)
		if err != nil {
			obslog.Error(ctx, "option_chain_poll_failed", err, obslog.Fields{"securityId": inst.SecurityID})
			continue
		}
		p.sink.UpdateOptionChain(inst.SecurityID, sentiment)
		p.bus.Publish(ctx, eventbus.TopicOptionChain, optionChainEvent{SecurityID: inst.SecurityID, Sentiment: sentiment})
	}
}

// optionChainEvent is the value published on eventbus.TopicOptionChain.
type optionChainEvent struct {
	SecurityID string
	Sentiment  strategy.OptionChainSentiment
}

func (p *Poller) fetch(ctx context.Context, securityID string) (strategy.OptionChainSentiment, error) {
	result, err := p.cb.ExecuteWithContext(ctx, func() (any, error) {
		var body chainResponse
		resp, err := p.client.R().
			SetContext(ctx).
			SetQueryParam("securityId", securityID).
			SetResult(&body).
			Get(p.baseURL + "/option-chain/sentiment")
		if err != nil {
			return nil, fmt.Errorf("option chain request: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("option chain request: status %d", resp.StatusCode())
		}
		return body, nil
	})
	if err != nil {
		return strategy.OptionChainSentiment{}, err
	}

	body := result.(chainResponse)
	side := domain.SideBuy
	if body.Direction == string(domain.SideSell) {
		side = domain.SideSell
	}
	return strategy.OptionChainSentiment{Direction: side, Strength: body.Strength}, nil
}
