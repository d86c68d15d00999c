// pkg/dxfeed/native/abi.go
package native

import "unsafe"

// Идентификаторы типов событий (dx_event_id_t). Маска типа: 1 << id.
const (
	EventIDTrade = iota
	EventIDQuote
	EventIDSummary
	EventIDProfile
	EventIDOrder
	EventIDTimeAndSale
	EventIDCandle
	EventIDTradeETH
	EventIDSpreadOrder
	EventIDGreeks
	EventIDTheoPrice
	EventIDUnderlying
	EventIDSeries
	EventIDConfiguration
	EventIDCount
)

// Маски DXF_ET_*.
const (
	ETTrade         int32 = 1 << EventIDTrade
	ETQuote         int32 = 1 << EventIDQuote
	ETSummary       int32 = 1 << EventIDSummary
	ETProfile       int32 = 1 << EventIDProfile
	ETOrder         int32 = 1 << EventIDOrder
	ETTimeAndSale   int32 = 1 << EventIDTimeAndSale
	ETCandle        int32 = 1 << EventIDCandle
	ETTradeETH      int32 = 1 << EventIDTradeETH
	ETSpreadOrder   int32 = 1 << EventIDSpreadOrder
	ETGreeks        int32 = 1 << EventIDGreeks
	ETTheoPrice     int32 = 1 << EventIDTheoPrice
	ETUnderlying    int32 = 1 << EventIDUnderlying
	ETSeries        int32 = 1 << EventIDSeries
	ETConfiguration int32 = 1 << EventIDConfiguration

	ETAll int32 = 1<<EventIDCount - 1
)

// Char: dxf_char_t (wchar_t, 4 байта на Linux/macOS).
type Char = int32

// Ptr: указатель на строку внутри структуры события. Значение
// не разыменовывается на стороне Go, строки приходят в Record.Strings.
type Ptr = uintptr

// OrderSourceLen: размер dxf_order_t.source (DXF_RECORD_SUFFIX_SIZE).
const OrderSourceLen = 17

// -----------------------------------------------------------------------------
// Зеркала структур EventData.h. Раскладка полей совпадает с C на 64-битных
// платформах: выравнивание int64/float64/указателей по 8, int32 по 4.
// -----------------------------------------------------------------------------

// RawTrade: dxf_trade_t (и dxf_trade_eth_t).
type RawTrade struct {
	Time         int64
	Sequence     int32
	TimeNanos    int32
	ExchangeCode Char
	Price        float64
	Size         float64
	Tick         int32
	Change       float64
	DayID        int32
	DayVolume    float64
	DayTurnover  float64
	RawFlags     int32
	Direction    int32
	IsETH        int32
	Scope        int32
}

// RawQuote: dxf_quote_t.
type RawQuote struct {
	Time            int64
	Sequence        int32
	TimeNanos       int32
	BidTime         int64
	BidExchangeCode Char
	BidPrice        float64
	BidSize         float64
	AskTime         int64
	AskExchangeCode Char
	AskPrice        float64
	AskSize         float64
	Scope           int32
}

// RawSummary: dxf_summary_t.
type RawSummary struct {
	DayID                 int32
	DayOpenPrice          float64
	DayHighPrice          float64
	DayLowPrice           float64
	DayClosePrice         float64
	PrevDayID             int32
	PrevDayClosePrice     float64
	PrevDayVolume         float64
	OpenInterest          int64
	RawFlags              int32
	ExchangeCode          Char
	DayClosePriceType     int32
	PrevDayClosePriceType int32
	Scope                 int32
}

// RawProfile: dxf_profile_t.
type RawProfile struct {
	Beta                 float64
	EPS                  float64
	DivFreq              float64
	ExdDivAmount         float64
	ExdDivDate           int32
	High52WeekPrice      float64
	Low52WeekPrice       float64
	Shares               float64
	FreeFloat            float64
	HighLimitPrice       float64
	LowLimitPrice        float64
	HaltStartTime        int64
	HaltEndTime          int64
	RawFlags             int32
	Description          Ptr
	StatusReason         Ptr
	TradingStatus        int32
	ShortSaleRestriction int32
}

// RawOrder: dxf_order_t.
type RawOrder struct {
	Source       [OrderSourceLen]Char
	EventFlags   uint32
	Index        int64
	Time         int64
	Sequence     int32
	TimeNanos    int32
	Action       int32
	ActionTime   int64
	OrderID      int64
	AuxOrderID   int64
	Price        float64
	Size         float64
	ExecutedSize float64
	Count        float64
	TradeID      int64
	TradePrice   float64
	TradeSize    float64
	ExchangeCode Char
	Side         int32
	Scope        int32
	MarketMaker  Ptr
}

// RawTimeAndSale: dxf_time_and_sale_t.
type RawTimeAndSale struct {
	EventFlags             uint32
	Index                  int64
	Time                   int64
	ExchangeCode           Char
	Price                  float64
	Size                   float64
	BidPrice               float64
	AskPrice               float64
	ExchangeSaleConditions Ptr
	RawFlags               int32
	Buyer                  Ptr
	Seller                 Ptr
	Side                   int32
	Type                   int32
	IsValidTick            int32
	IsETHTrade             int32
	TradeThroughExempt     Char
	IsSpreadLeg            int32
	Scope                  int32
}

// RawCandle: dxf_candle_t.
type RawCandle struct {
	EventFlags    uint32
	Index         int64
	Time          int64
	Sequence      int32
	Count         float64
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        float64
	VWAP          float64
	BidVolume     float64
	AskVolume     float64
	OpenInterest  float64
	ImpVolatility float64
}

// RawSpreadOrder: dx_spread_order_t.
type RawSpreadOrder struct {
	EventFlags   uint32
	Index        int64
	Time         int64
	Sequence     int32
	TimeNanos    int32
	Action       int32
	ActionTime   int64
	OrderID      int64
	AuxOrderID   int64
	Price        float64
	Size         float64
	ExecutedSize float64
	Count        float64
	TradeID      int64
	TradePrice   float64
	TradeSize    float64
	ExchangeCode Char
	Side         int32
	Scope        int32
	SpreadSymbol Ptr
}

// RawGreeks: dxf_greeks_t.
type RawGreeks struct {
	EventFlags uint32
	Index      int64
	Time       int64
	Price      float64
	Volatility float64
	Delta      float64
	Gamma      float64
	Theta      float64
	Rho        float64
	Vega       float64
}

// RawTheoPrice: dxf_theo_price_t.
type RawTheoPrice struct {
	Time            int64
	Price           float64
	UnderlyingPrice float64
	Delta           float64
	Gamma           float64
	Dividend        float64
	Interest        float64
}

// RawUnderlying: dxf_underlying_t.
type RawUnderlying struct {
	Volatility      float64
	FrontVolatility float64
	BackVolatility  float64
	CallVolume      float64
	PutVolume       float64
	OptionVolume    float64
	PutCallRatio    float64
}

// RawSeries: dxf_series_t.
type RawSeries struct {
	EventFlags   uint32
	Index        int64
	Time         int64
	Sequence     int32
	Expiration   int32
	Volatility   float64
	CallVolume   float64
	PutVolume    float64
	OptionVolume float64
	PutCallRatio float64
	ForwardPrice float64
	Dividend     float64
	Interest     float64
}

// RawConfiguration: dxf_configuration_t.
type RawConfiguration struct {
	Version int32
	Object  Ptr
}

// -----------------------------------------------------------------------------
// Layouts
// -----------------------------------------------------------------------------

// Layout описывает раскладку одного типа события.
type Layout struct {
	Name    string
	Size    uintptr
	Strings []uintptr // смещения полей-указателей на строки
}

var layouts = [EventIDCount]Layout{
	EventIDTrade:   {Name: "trade", Size: unsafe.Sizeof(RawTrade{})},
	EventIDQuote:   {Name: "quote", Size: unsafe.Sizeof(RawQuote{})},
	EventIDSummary: {Name: "summary", Size: unsafe.Sizeof(RawSummary{})},
	EventIDProfile: {Name: "profile", Size: unsafe.Sizeof(RawProfile{}), Strings: []uintptr{
		unsafe.Offsetof(RawProfile{}.Description),
		unsafe.Offsetof(RawProfile{}.StatusReason),
	}},
	EventIDOrder: {Name: "order", Size: unsafe.Sizeof(RawOrder{}), Strings: []uintptr{
		unsafe.Offsetof(RawOrder{}.MarketMaker),
	}},
	EventIDTimeAndSale: {Name: "time_and_sale", Size: unsafe.Sizeof(RawTimeAndSale{}), Strings: []uintptr{
		unsafe.Offsetof(RawTimeAndSale{}.ExchangeSaleConditions),
		unsafe.Offsetof(RawTimeAndSale{}.Buyer),
		unsafe.Offsetof(RawTimeAndSale{}.Seller),
	}},
	EventIDCandle:   {Name: "candle", Size: unsafe.Sizeof(RawCandle{})},
	EventIDTradeETH: {Name: "trade_eth", Size: unsafe.Sizeof(RawTrade{})},
	EventIDSpreadOrder: {Name: "spread_order", Size: unsafe.Sizeof(RawSpreadOrder{}), Strings: []uintptr{
		unsafe.Offsetof(RawSpreadOrder{}.SpreadSymbol),
	}},
	EventIDGreeks:     {Name: "greeks", Size: unsafe.Sizeof(RawGreeks{})},
	EventIDTheoPrice:  {Name: "theo_price", Size: unsafe.Sizeof(RawTheoPrice{})},
	EventIDUnderlying: {Name: "underlying", Size: unsafe.Sizeof(RawUnderlying{})},
	EventIDSeries:     {Name: "series", Size: unsafe.Sizeof(RawSeries{})},
	EventIDConfiguration: {Name: "configuration", Size: unsafe.Sizeof(RawConfiguration{}), Strings: []uintptr{
		unsafe.Offsetof(RawConfiguration{}.Object),
	}},
}

// EventID возвращает идентификатор для маски с ровно одним битом.
func EventID(kind int32) (int, bool) {
	if kind <= 0 || kind&(kind-1) != 0 || kind&^ETAll != 0 {
		return 0, false
	}
	id := 0
	for kind > 1 {
		kind >>= 1
		id++
	}
	return id, true
}

// LayoutOf возвращает раскладку для маски типа события.
func LayoutOf(kind int32) (Layout, bool) {
	id, ok := EventID(kind)
	if !ok {
		return Layout{}, false
	}
	return layouts[id], true
}

// Encode копирует структуру фиксированной раскладки в байты в порядке
// байтов хоста, как она лежала бы в памяти библиотеки.
func Encode[T any](raw T) []byte {
	n := unsafe.Sizeof(raw)
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&raw)), n))
	return out
}

// View копирует первые Sizeof(T) байт body в значение T на стеке.
// Возвращает false, если body короче раскладки.
func View[T any](body []byte) (T, bool) {
	var v T
	n := int(unsafe.Sizeof(v))
	if len(body) < n {
		return v, false
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&v)), n), body[:n])
	return v, true
}
