package feed

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
)

// FeedCode identifies the packet type carried by a frame header.
type FeedCode uint8

const (
	CodeTicker       FeedCode = 2
	CodeQuote        FeedCode = 4
	CodeOI           FeedCode = 5
	CodePrevClose    FeedCode = 6
	CodeFull         FeedCode = 8
	CodeDisconnection FeedCode = 50
	CodeBid20        FeedCode = 41
	CodeAsk20        FeedCode = 51
)

// headerSize is the fixed 8-byte frame header: feedCode(u8),
// messageLength(u16 LE), exchangeSegment(u8), securityId(u32 LE).
const headerSize = 8

// Header is the fixed prefix of every vendor frame.
type Header struct {
	FeedCode        FeedCode
	MessageLength   uint16
	ExchangeSegment uint8
	SecurityID      uint32
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrFrameTooShort, headerSize, len(buf))
	}
	return Header{
		FeedCode:        FeedCode(buf[0]),
		MessageLength:   binary.LittleEndian.Uint16(buf[1:3]),
		ExchangeSegment: buf[3],
		SecurityID:      binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

func f32(buf []byte, off int) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4])))
}

func i16(buf []byte, off int) int16 {
	return int16(binary.LittleEndian.Uint16(buf[off : off+2]))
}

func u16(buf []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(buf[off : off+2])
}

func i32(buf []byte, off int) int32 {
	return int32(binary.LittleEndian.Uint32(buf[off : off+4]))
}

// DecodedPacket is the union of everything a frame can decode to; which
// fields besides Header are populated depends on FeedCode (a Full packet
// fills both Tick and Depth; an OI packet fills none).
type DecodedPacket struct {
	Header Header

	Tick        *domain.Tick
	PrevClose   *PrevCloseInfo
	Depth       *domain.MarketDepth
	Disconnect  *DisconnectReason
}

// PrevCloseInfo carries the previous session's reference prices.
type PrevCloseInfo struct {
	SecurityID           string
	PreviousClosePrice   float64
	PreviousOpenInterest int32
}

// Decode parses one complete frame (header + body) into a DecodedPacket.
// Before reading any field it checks that the buffer is at least the fixed
// packet size for its feed code (spec.md §9: "Decoders must validate frame
// length before reads to avoid out-of-bounds"); the header's
// MessageLength is decoded but not compared against the buffer.
func Decode(buf []byte) (*DecodedPacket, error) {
	hdr, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	securityID := fmt.Sprintf("%d", hdr.SecurityID)

	switch hdr.FeedCode {
	case CodeTicker:
		if err := requireLen(buf, 16); err != nil {
			return nil, err
		}
		return &DecodedPacket{Header: hdr, Tick: &domain.Tick{
			SecurityID: securityID,
			LTP:        f32(buf, 8),
			LTT:        time.Unix(int64(i32(buf, 12)), 0).UTC(),
			CapturedAt: time.Now().UTC(),
		}}, nil

	case CodeQuote:
		if err := requireLen(buf, 54); err != nil {
			return nil, err
		}
		return &DecodedPacket{Header: hdr, Tick: &domain.Tick{
			SecurityID:   securityID,
			LTP:          f32(buf, 8),
			LTQ:          int32(i16(buf, 12)),
			LTT:          time.Unix(int64(i32(buf, 14)), 0).UTC(),
			ATP:          f32(buf, 18),
			Volume:       int64(i32(buf, 22)),
			TotalSellQty: int64(i32(buf, 26)),
			TotalBuyQty:  int64(i32(buf, 30)),
			Open:         f32(buf, 34),
			High:         f32(buf, 38),
			Low:          f32(buf, 42),
			Close:        f32(buf, 46),
			CapturedAt:   time.Now().UTC(),
		}}, nil

	case CodeOI:
		if err := requireLen(buf, 12); err != nil {
			return nil, err
		}
		// Open interest alone does not produce a Tick; callers merge it
		// into the enriched state keyed by SecurityID.
		return &DecodedPacket{Header: hdr}, nil

	case CodePrevClose:
		if err := requireLen(buf, 16); err != nil {
			return nil, err
		}
		return &DecodedPacket{Header: hdr, PrevClose: &PrevCloseInfo{
			SecurityID:           securityID,
			PreviousClosePrice:   f32(buf, 8),
			PreviousOpenInterest: i32(buf, 12),
		}}, nil

	case CodeFull:
		if err := requireLen(buf, 162); err != nil {
			return nil, err
		}
		tick := &domain.Tick{
			SecurityID:   securityID,
			LTP:          f32(buf, 8),
			LTQ:          int32(i16(buf, 12)),
			LTT:          time.Unix(int64(i32(buf, 14)), 0).UTC(),
			ATP:          f32(buf, 18),
			Volume:       int64(i32(buf, 22)),
			TotalSellQty: int64(i32(buf, 26)),
			TotalBuyQty:  int64(i32(buf, 30)),
			Open:         f32(buf, 46),
			Close:        f32(buf, 50),
			High:         f32(buf, 54),
			Low:          f32(buf, 58),
			CapturedAt:   time.Now().UTC(),
		}

		bids := make([]domain.DepthLevel, 0, 5)
		asks := make([]domain.DepthLevel, 0, 5)
		for level := 0; level < 5; level++ {
			off := 62 + level*20
			bidQty := i32(buf, off)
			askQty := i32(buf, off+4)
			bidOrders := i16(buf, off+8)
			askOrders := i16(buf, off+10)
			bidPrice := f32(buf, off+12)
			askPrice := f32(buf, off+16)
			if bidQty > 0 {
				bids = append(bids, domain.DepthLevel{Price: bidPrice, Quantity: bidQty, Orders: int32(bidOrders)})
			}
			if askQty > 0 {
				asks = append(asks, domain.DepthLevel{Price: askPrice, Quantity: askQty, Orders: int32(askOrders)})
			}
		}

		return &DecodedPacket{
			Header: hdr,
			Tick:   tick,
			Depth: &domain.MarketDepth{
				SecurityID: securityID,
				Bids:       bids,
				Asks:       asks,
				CapturedAt: tick.CapturedAt,
			},
		}, nil

	case CodeDisconnection:
		if err := requireLen(buf, 10); err != nil {
			return nil, err
		}
		reason := DisconnectReason(u16(buf, 8))
		return &DecodedPacket{Header: hdr, Disconnect: &reason}, nil

	case CodeBid20, CodeAsk20:
		return decodeDepthLadder(hdr, buf, securityID)

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFeedCode, hdr.FeedCode)
	}
}

func requireLen(buf []byte, want int) error {
	if len(buf) < want {
		return fmt.Errorf("%w: need %d bytes, got %d", ErrFrameTooShort, want, len(buf))
	}
	return nil
}

// decodeDepthLadder parses a 20-level bid or ask ladder frame: each level
// is 16 bytes (price f64 LE, quantity u32 LE, orders u32 LE), up to 20
// levels, count derived from the number of whole levels in the buffer
// after the header.
func decodeDepthLadder(hdr Header, buf []byte, securityID string) (*DecodedPacket, error) {
	const levelSize = 16
	body := buf[headerSize:]
	numLevels := len(body) / levelSize
	if numLevels > 20 {
		numLevels = 20
	}
	levels := make([]domain.DepthLevel, 0, numLevels)
	for i := 0; i < numLevels; i++ {
		off := i * levelSize
		if off+levelSize > len(body) {
			break
		}
		price := math.Float64frombits(binary.LittleEndian.Uint64(body[off : off+8]))
		qty := binary.LittleEndian.Uint32(body[off+8 : off+12])
		orders := binary.LittleEndian.Uint32(body[off+12 : off+16])
		if qty == 0 {
			continue
		}
		levels = append(levels, domain.DepthLevel{Price: price, Quantity: int32(qty), Orders: int32(orders)})
	}

	depth := &domain.MarketDepth{SecurityID: securityID, CapturedAt: time.Now().UTC()}
	if hdr.FeedCode == CodeBid20 {
		depth.Bids = levels
	} else {
		depth.Asks = levels
	}
	return &DecodedPacket{Header: hdr, Depth: depth}, nil
}
