package protocol

import "time"

// MessageKind tags which variant a ParseResult carries.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindPriceList
	KindCategoryDescription
	KindCompressedContainer
)

func (k MessageKind) String() string {
	switch k {
	case KindPriceList:
		return "PriceList"
	case KindCategoryDescription:
		return "CategoryDescription"
	case KindCompressedContainer:
		return "CompressedContainer"
	default:
		return "Unknown"
	}
}

// ItemPrice is one entry of a PriceList message: a catalogue item with
// its auction-house prices at successive quantity tiers (1, 10, 100, ...).
type ItemPrice struct {
	Gid      int32
	Category int32
	Prices   []int64
}

// PriceList is the decoded price-list message: one HDV snapshot.
type PriceList struct {
	Items      []ItemPrice
	ReceivedAt time.Time
}

// CategoryDescription names an auction-house category.
type CategoryDescription struct {
	ObjectType  int32
	Description string
	HasDescription bool
}

// CompressedContainer carries a zlib-compressed inner message. The
// parser does not emit this variant: a container whose inflated bytes
// parse is returned as that inner ParseResult, and one whose inflated
// bytes do not parse surfaces as an Unknown.
type CompressedContainer struct {
	Payload []byte
	Inner   *ParseResult
}

// Unknown wraps a message the parser did not recognise, or a container
// whose inner payload could not be parsed.
type Unknown struct {
	MessageID int32
	Payload   []byte
}

// Message is a tagged union over the four message variants. Exactly
// one of the typed fields is non-nil/zero-valued per Kind.
type Message struct {
	Kind                 MessageKind
	PriceList            *PriceList
	CategoryDescription  *CategoryDescription
	CompressedContainer  *CompressedContainer
	Unknown              *Unknown
}

// ParseResult is the outcome of framing and dispatching one candidate
// protocol frame: either a decoded Message with metadata, or a
// failure carrying the error kind and the raw bytes for diagnostics.
type ParseResult struct {
	MessageID int32
	RawBytes  []byte
	ParsedAt  time.Time

	Message *Message
	Err     error
}

// QuantityTiers maps a PriceList price index to its quantity
// (1, 10, 100); indices beyond that are ignored per spec.
var QuantityTiers = [3]int32{1, 10, 100}

// PriceObservation is one (item, quantity, price) tuple pulled from a
// PriceList, not yet validated or persisted.
type PriceObservation struct {
	ItemGid    int32
	Category   int32
	Quantity   int32
	Price      int64
	ObservedAt time.Time
}

// ExtractObservations expands a PriceList into PriceObservations: one
// per (gid, category, quantity=10^i, price) where price > 0 and i < 3.
func ExtractObservations(pl *PriceList) []PriceObservation {
	if pl == nil {
		return nil
	}
	out := make([]PriceObservation, 0, len(pl.Items))
	for _, item := range pl.Items {
		for i, price := range item.Prices {
			if i >= len(QuantityTiers) {
				break
			}
			if price <= 0 {
				continue
			}
			out = append(out, PriceObservation{
				ItemGid:    item.Gid,
				Category:   item.Category,
				Quantity:   QuantityTiers[i],
				Price:      price,
				ObservedAt: pl.ReceivedAt,
			})
		}
	}
	return out
}
