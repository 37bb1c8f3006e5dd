package protocol

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"time"
)

// MessageIDs are the dispatch-table constants the parser switches on.
// The spec deliberately leaves these as configuration inputs rather
// than hard-coded literals (open question: the source never pinned
// down the real wire values).
type MessageIDs struct {
	PriceList           int32
	CategoryDescription int32
	CompressedContainer int32
}

// DefaultMessageIDs are placeholder values pending verification against
// a live capture; override via configuration once confirmed.
var DefaultMessageIDs = MessageIDs{
	PriceList:           2010,
	CategoryDescription: 2011,
	CompressedContainer: 999,
}

// Parser frames and decodes one candidate protocol frame at a time. It
// holds no state across calls.
type Parser struct {
	ids MessageIDs
	// MaxDecompressionRatio bounds inflated-size / compressed-size for
	// CompressedContainer payloads; exceeding it yields
	// ErrDecompressionBomb. Spec default is 64.
	maxDecompressionRatio int
}

// NewParser builds a Parser with the given message-ID table and
// decompression-ratio cap. A non-positive ratio falls back to 64.
func NewParser(ids MessageIDs, maxDecompressionRatio int) *Parser {
	if maxDecompressionRatio <= 0 {
		maxDecompressionRatio = 64
	}
	return &Parser{ids: ids, maxDecompressionRatio: maxDecompressionRatio}
}

// Parse frames the header, reads the declared payload, and dispatches
// by message ID. It never returns a nil *ParseResult; failures are
// reported via the Err field with RawBytes preserved for diagnostics.
func (p *Parser) Parse(raw []byte) *ParseResult {
	now := time.Now()
	r := NewReader(raw)

	header, err := r.ReadUnsignedShort()
	if err != nil {
		return &ParseResult{RawBytes: raw, ParsedAt: now, Err: err}
	}
	messageID := int32(header >> 2)
	lengthWidth := header & 0x3

	payloadLen, err := readPayloadLength(r, lengthWidth)
	if err != nil {
		return &ParseResult{MessageID: messageID, RawBytes: raw, ParsedAt: now, Err: err}
	}
	if payloadLen > r.Remaining() {
		return &ParseResult{MessageID: messageID, RawBytes: raw, ParsedAt: now, Err: ErrTruncated}
	}
	payload, err := r.ReadBytes(payloadLen)
	if err != nil {
		return &ParseResult{MessageID: messageID, RawBytes: raw, ParsedAt: now, Err: err}
	}

	if messageID == p.ids.CompressedContainer {
		return p.parseCompressedContainer(raw, payload, now)
	}

	msg, err := p.dispatch(messageID, payload, now)
	if err != nil {
		return &ParseResult{MessageID: messageID, RawBytes: raw, ParsedAt: now, Err: err}
	}
	return &ParseResult{MessageID: messageID, RawBytes: raw, ParsedAt: now, Message: msg}
}

func readPayloadLength(r *Reader, width uint16) (int, error) {
	switch width {
	case 0:
		return 0, nil
	case 1:
		b, err := r.ReadUnsignedByte()
		if err != nil {
			return 0, err
		}
		return int(b), nil
	case 2:
		v, err := r.ReadUnsignedShort()
		if err != nil {
			return 0, err
		}
		return int(v), nil
	case 3:
		hi, err := r.ReadUnsignedByte()
		if err != nil {
			return 0, err
		}
		lo, err := r.ReadUnsignedShort()
		if err != nil {
			return 0, err
		}
		return int(hi)<<16 | int(lo), nil
	default:
		return 0, fmt.Errorf("protocol: impossible length width %d: %w", width, ErrTruncated)
	}
}

func (p *Parser) dispatch(messageID int32, payload []byte, now time.Time) (*Message, error) {
	switch messageID {
	case p.ids.PriceList:
		return p.parsePriceList(payload, now)
	case p.ids.CategoryDescription:
		return p.parseCategoryDescription(payload)
	default:
		return &Message{
			Kind:    KindUnknown,
			Unknown: &Unknown{MessageID: messageID, Payload: payload},
		}, nil
	}
}

func (p *Parser) parsePriceList(payload []byte, now time.Time) (*Message, error) {
	r := NewReader(payload)
	count, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	items := make([]ItemPrice, 0, count)
	for i := int32(0); i < count; i++ {
		gid, err := r.ReadVarInt()
		if err != nil {
			return nil, err
		}
		category, err := r.ReadVarInt()
		if err != nil {
			return nil, err
		}
		priceCount, err := r.ReadVarInt()
		if err != nil {
			return nil, err
		}
		prices := make([]int64, 0, priceCount)
		for j := int32(0); j < priceCount; j++ {
			price, err := r.ReadVarLong()
			if err != nil {
				return nil, err
			}
			prices = append(prices, price)
		}
		items = append(items, ItemPrice{Gid: gid, Category: category, Prices: prices})
	}
	return &Message{
		Kind:      KindPriceList,
		PriceList: &PriceList{Items: items, ReceivedAt: now},
	}, nil
}

func (p *Parser) parseCategoryDescription(payload []byte) (*Message, error) {
	r := NewReader(payload)
	category, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	desc := CategoryDescription{ObjectType: category}
	if r.HasRemaining() {
		text, err := r.ReadUTF()
		if err != nil {
			return nil, err
		}
		desc.Description = text
		desc.HasDescription = true
	}
	return &Message{Kind: KindCategoryDescription, CategoryDescription: &desc}, nil
}

// parseCompressedContainer reads the compressed byte array, inflates
// it, and recursively parses the result, returning the inner
// ParseResult directly on success. Inflation failures (corrupt
// stream, empty output, ratio exceeded) propagate as real parse
// errors; only a failure to parse the already-inflated bytes degrades
// to an Unknown wrapping the still-compressed payload.
func (p *Parser) parseCompressedContainer(raw, payload []byte, now time.Time) *ParseResult {
	r := NewReader(payload)
	compressed, err := r.ReadByteArray()
	if err != nil {
		return &ParseResult{RawBytes: raw, ParsedAt: now, Err: err}
	}

	// Truncated/DecompressionBomb from inflation itself are real parse
	// failures, surfaced as such rather than degraded to Unknown.
	inflated, err := p.inflate(compressed)
	if err != nil {
		return &ParseResult{MessageID: p.ids.CompressedContainer, RawBytes: raw, ParsedAt: now, Err: err}
	}

	inner := p.Parse(inflated)
	if inner.Err != nil {
		return &ParseResult{
			MessageID: p.ids.CompressedContainer,
			RawBytes:  raw,
			ParsedAt:  now,
			Message: &Message{
				Kind:    KindUnknown,
				Unknown: &Unknown{MessageID: p.ids.CompressedContainer, Payload: compressed},
			},
		}
	}
	return inner
}

func (p *Parser) inflate(compressed []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("protocol: zlib open failed: %w", ErrTruncated)
	}
	defer zr.Close()

	limit := int64(len(compressed)) * int64(p.maxDecompressionRatio)
	limited := io.LimitReader(zr, limit+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("protocol: inflate failed: %w", ErrTruncated)
	}
	if int64(len(out)) > limit {
		return nil, ErrDecompressionBomb
	}
	if len(out) == 0 {
		return nil, ErrTruncated
	}
	return out, nil
}
