package event

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native"
)

// Kind: набор типов событий в виде битовой маски DXF_ET_*.
// Одиночный тип: маска с одним битом; наборы собираются через |.
type Kind int32

const (
	KindTrade         = Kind(native.ETTrade)
	KindQuote         = Kind(native.ETQuote)
	KindSummary       = Kind(native.ETSummary)
	KindProfile       = Kind(native.ETProfile)
	KindOrder         = Kind(native.ETOrder)
	KindTimeAndSale   = Kind(native.ETTimeAndSale)
	KindCandle        = Kind(native.ETCandle)
	KindTradeETH      = Kind(native.ETTradeETH)
	KindSpreadOrder   = Kind(native.ETSpreadOrder)
	KindGreeks        = Kind(native.ETGreeks)
	KindTheoPrice     = Kind(native.ETTheoPrice)
	KindUnderlying    = Kind(native.ETUnderlying)
	KindSeries        = Kind(native.ETSeries)
	KindConfiguration = Kind(native.ETConfiguration)

	KindAll = Kind(native.ETAll)
)

var kindNames = [native.EventIDCount]string{
	native.EventIDTrade:         "Trade",
	native.EventIDQuote:         "Quote",
	native.EventIDSummary:       "Summary",
	native.EventIDProfile:       "Profile",
	native.EventIDOrder:         "Order",
	native.EventIDTimeAndSale:   "TimeAndSale",
	native.EventIDCandle:        "Candle",
	native.EventIDTradeETH:      "TradeETH",
	native.EventIDSpreadOrder:   "SpreadOrder",
	native.EventIDGreeks:        "Greeks",
	native.EventIDTheoPrice:     "TheoPrice",
	native.EventIDUnderlying:    "Underlying",
	native.EventIDSeries:        "Series",
	native.EventIDConfiguration: "Configuration",
}

// Valid сообщает, что набор непустой и не содержит неизвестных битов.
func (k Kind) Valid() bool {
	return k != 0 && k&^KindAll == 0
}

// Single сообщает, что k: ровно один известный тип.
func (k Kind) Single() bool {
	return k.Valid() && bits.OnesCount32(uint32(k)) == 1
}

// Has сообщает, что все типы из other входят в k.
func (k Kind) Has(other Kind) bool {
	return other != 0 && k&other == other
}

// Split раскладывает набор на одиночные типы в порядке идентификаторов.
func (k Kind) Split() []Kind {
	out := make([]Kind, 0, bits.OnesCount32(uint32(k&KindAll)))
	for id := 0; id < native.EventIDCount; id++ {
		if bit := Kind(1) << id; k&bit != 0 {
			out = append(out, bit)
		}
	}
	return out
}

func (k Kind) String() string {
	if k == 0 {
		return "None"
	}
	var parts []string
	for _, s := range k.Split() {
		id, _ := native.EventID(int32(s))
		parts = append(parts, kindNames[id])
	}
	if rest := k &^ KindAll; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", int32(rest)))
	}
	return strings.Join(parts, "|")
}

// MarshalText кодирует набор как "Quote|Trade".
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKind разбирает одно имя типа: регистр, '_' и '-' не важны
// ("quote", "time_and_sale", "TradeETH").
func ParseKind(name string) (Kind, error) {
	norm := normalizeKindName(name)
	if norm == "all" {
		return KindAll, nil
	}
	for id, n := range kindNames {
		if strings.ToLower(n) == norm {
			return Kind(1) << id, nil
		}
	}
	return 0, fmt.Errorf("event: unknown event kind %q", name)
}

// ParseKinds разбирает список через запятую или '|'.
func ParseKinds(list string) (Kind, error) {
	var k Kind
	for _, part := range strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == '|' }) {
		if strings.TrimSpace(part) == "" {
			continue
		}
		one, err := ParseKind(part)
		if err != nil {
			return 0, err
		}
		k |= one
	}
	if k == 0 {
		return 0, fmt.Errorf("event: empty event kind list")
	}
	return k, nil
}

func normalizeKindName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}
