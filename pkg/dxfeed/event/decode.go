package event

import (
	"fmt"
	"math"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native"
)

const (
	DefaultMaxSymbolLen = 256
	DefaultMaxStringLen = 4096
)

// Limits ограничивает длины строк, которые декодер готов скопировать.
type Limits struct {
	MaxSymbolLen int
	MaxStringLen int
}

func (l *Limits) applyDefaults() {
	if l.MaxSymbolLen <= 0 {
		l.MaxSymbolLen = DefaultMaxSymbolLen
	}
	if l.MaxStringLen <= 0 {
		l.MaxStringLen = DefaultMaxStringLen
	}
}

// Decode превращает нативную запись в собственное значение Go.
//
// Все строки копируются, поэтому результат остаётся валидным после
// возврата из обратного вызова. При ошибке возвращается только
// *DecodeError, частично заполненное событие отбрасывается. Функция
// не имеет побочных эффектов: повторный вызов на той же записи даёт
// равную ошибку.
func Decode(rec *native.Record, lim Limits) (Event, error) {
	lim.applyDefaults()
	if rec == nil {
		return nil, &DecodeError{Field: "record", Reason: ReasonLengthOverflow, Detail: "nil record"}
	}
	layout, ok := native.LayoutOf(rec.Kind)
	if !ok {
		return nil, &DecodeError{
			RawKind: rec.Kind, Field: "event_type",
			Reason: ReasonUnknownDiscriminant, Detail: fmt.Sprintf("0x%x", rec.Kind),
		}
	}
	if uintptr(len(rec.Body)) < layout.Size {
		return nil, &DecodeError{
			RawKind: rec.Kind, Field: "body", Reason: ReasonLengthOverflow,
			Detail: fmt.Sprintf("%d bytes, layout needs %d", len(rec.Body), layout.Size),
		}
	}
	if len(rec.Strings) != len(layout.Strings) {
		return nil, &DecodeError{
			RawKind: rec.Kind, Field: "strings", Reason: ReasonLengthOverflow,
			Detail: fmt.Sprintf("%d resolved, layout has %d", len(rec.Strings), len(layout.Strings)),
		}
	}

	d := decoder{kind: rec.Kind, lim: lim, strs: rec.Strings}
	sym := d.symbol(rec.Symbol)

	var ev Event
	switch Kind(rec.Kind) {
	case KindTrade:
		ev = d.trade(sym, rec.Body)
	case KindTradeETH:
		ev = &TradeETH{Trade: *d.trade(sym, rec.Body)}
	case KindQuote:
		ev = d.quote(sym, rec.Body)
	case KindSummary:
		ev = d.summary(sym, rec.Body)
	case KindProfile:
		ev = d.profile(sym, rec.Body)
	case KindOrder:
		ev = d.order(sym, rec.Body)
	case KindSpreadOrder:
		ev = d.spreadOrder(sym, rec.Body)
	case KindTimeAndSale:
		ev = d.timeAndSale(sym, rec.Body)
	case KindCandle:
		ev = d.candle(sym, rec.Body)
	case KindGreeks:
		ev = d.greeks(sym, rec.Body)
	case KindTheoPrice:
		ev = d.theoPrice(sym, rec.Body)
	case KindUnderlying:
		ev = d.underlying(sym, rec.Body)
	case KindSeries:
		ev = d.series(sym, rec.Body)
	case KindConfiguration:
		ev = d.configuration(sym, rec.Body)
	}
	if d.err != nil {
		return nil, d.err
	}
	return ev, nil
}

// -----------------------------------------------------------------------------
// decoder: поля и маркеры отсутствия
// -----------------------------------------------------------------------------

// decoder запоминает первую ошибку; остальные поля читаются
// вхолостую, результат при ошибке не возвращается.
type decoder struct {
	kind int32
	lim  Limits
	strs []native.WString
	err  *DecodeError
}

func (d *decoder) fail(field string, r Reason, format string, args ...any) {
	if d.err == nil {
		d.err = &DecodeError{RawKind: d.kind, Field: field, Reason: r, Detail: fmt.Sprintf(format, args...)}
	}
}

// double: NaN означает «нет значения», бесконечность считается порчей.
func (d *decoder) double(field string, v float64) Optional[float64] {
	switch {
	case math.IsNaN(v):
		return None[float64]()
	case math.IsInf(v, 0):
		d.fail(field, ReasonCorruptSentinel, "%v", v)
		return None[float64]()
	}
	return Some(v)
}

// millis: 0 означает «нет значения», отрицательное время считается порчей.
func (d *decoder) millis(field string, ms int64) Optional[time.Time] {
	switch {
	case ms == 0:
		return None[time.Time]()
	case ms < 0:
		d.fail(field, ReasonCorruptSentinel, "%d", ms)
		return None[time.Time]()
	}
	return Some(time.UnixMilli(ms).UTC())
}

// eventTime добавляет к миллисекундам наносекундную часть (0..999999).
func (d *decoder) eventTime(field string, ms int64, nanos int32) Optional[time.Time] {
	t := d.millis(field, ms)
	if nanos < 0 || nanos >= int32(time.Millisecond) {
		d.fail(field+"_nanos", ReasonCorruptSentinel, "%d", nanos)
		return t
	}
	if v, ok := t.Get(); ok && nanos != 0 {
		return Some(v.Add(time.Duration(nanos)))
	}
	return t
}

// day: идентификатор дня (дни от эпохи), 0 означает «нет значения».
func (d *decoder) day(field string, v int32) Optional[int32] {
	switch {
	case v == 0:
		return None[int32]()
	case v < 0:
		d.fail(field, ReasonCorruptSentinel, "%d", v)
		return None[int32]()
	}
	return Some(v)
}

// exchange: код 0 означает «нет значения».
func (d *decoder) exchange(field string, c native.Char) Optional[Exchange] {
	if c == 0 {
		return None[Exchange]()
	}
	if !utf8.ValidRune(c) || unicode.IsControl(c) {
		d.fail(field, ReasonInvalidString, "code point %#x", c)
		return None[Exchange]()
	}
	return Some(Exchange(c))
}

func (d *decoder) flag(field string, v int32) bool {
	switch v {
	case 0:
		return false
	case 1:
		return true
	}
	d.fail(field, ReasonUnknownDiscriminant, "%d", v)
	return false
}

// enum проверяет 0 <= v < n.
func (d *decoder) enum(field string, v int32, n int) int32 {
	if v < 0 || int(v) >= n {
		d.fail(field, ReasonUnknownDiscriminant, "%d", v)
		return 0
	}
	return v
}

func (d *decoder) symbol(ws native.WString) string {
	switch {
	case len(ws) == 0:
		d.fail("symbol", ReasonLengthOverflow, "empty")
		return ""
	case len(ws) > d.lim.MaxSymbolLen:
		d.fail("symbol", ReasonLengthOverflow, "%d code points, limit %d", len(ws), d.lim.MaxSymbolLen)
		return ""
	}
	for i, r := range ws {
		if r == 0 || !utf8.ValidRune(r) || unicode.IsControl(r) || unicode.IsSpace(r) {
			d.fail("symbol", ReasonInvalidString, "code point %#x at %d", r, i)
			return ""
		}
	}
	return string([]rune(ws))
}

// str копирует i-ю строку записи.
func (d *decoder) str(field string, i int) string {
	ws := d.strs[i]
	if len(ws) > d.lim.MaxStringLen {
		d.fail(field, ReasonLengthOverflow, "%d code points, limit %d", len(ws), d.lim.MaxStringLen)
		return ""
	}
	for j, r := range ws {
		if r == 0 || !utf8.ValidRune(r) {
			d.fail(field, ReasonInvalidString, "code point %#x at %d", r, j)
			return ""
		}
	}
	return string([]rune(ws))
}

// chars читает строку из массива фиксированной длины; завершающий ноль
// обязан быть внутри массива.
func (d *decoder) chars(field string, arr []native.Char) string {
	n := -1
	for i, c := range arr {
		if c == 0 {
			n = i
			break
		}
	}
	if n < 0 {
		d.fail(field, ReasonLengthOverflow, "no terminator within %d", len(arr))
		return ""
	}
	for i, r := range arr[:n] {
		if !utf8.ValidRune(r) || unicode.IsControl(r) {
			d.fail(field, ReasonInvalidString, "code point %#x at %d", r, i)
			return ""
		}
	}
	return string([]rune(arr[:n]))
}

// -----------------------------------------------------------------------------
// Типы событий
// -----------------------------------------------------------------------------

func (d *decoder) trade(sym string, body []byte) *Trade {
	raw, _ := native.View[native.RawTrade](body)
	return &Trade{
		Symbol:      sym,
		Time:        d.eventTime("time", raw.Time, raw.TimeNanos),
		Sequence:    raw.Sequence,
		Exchange:    d.exchange("exchange_code", raw.ExchangeCode),
		Price:       d.double("price", raw.Price),
		Size:        d.double("size", raw.Size),
		Tick:        raw.Tick,
		Change:      d.double("change", raw.Change),
		DayID:       d.day("day_id", raw.DayID),
		DayVolume:   d.double("day_volume", raw.DayVolume),
		DayTurnover: d.double("day_turnover", raw.DayTurnover),
		RawFlags:    raw.RawFlags,
		Direction:   Direction(d.enum("direction", raw.Direction, len(directionNames))),
		ETH:         d.flag("is_eth", raw.IsETH),
		Scope:       Scope(d.enum("scope", raw.Scope, len(scopeNames))),
	}
}

func (d *decoder) quote(sym string, body []byte) *Quote {
	raw, _ := native.View[native.RawQuote](body)
	return &Quote{
		Symbol:      sym,
		Time:        d.eventTime("time", raw.Time, raw.TimeNanos),
		Sequence:    raw.Sequence,
		BidTime:     d.millis("bid_time", raw.BidTime),
		BidExchange: d.exchange("bid_exchange_code", raw.BidExchangeCode),
		BidPrice:    d.double("bid_price", raw.BidPrice),
		BidSize:     d.double("bid_size", raw.BidSize),
		AskTime:     d.millis("ask_time", raw.AskTime),
		AskExchange: d.exchange("ask_exchange_code", raw.AskExchangeCode),
		AskPrice:    d.double("ask_price", raw.AskPrice),
		AskSize:     d.double("ask_size", raw.AskSize),
		Scope:       Scope(d.enum("scope", raw.Scope, len(scopeNames))),
	}
}

func (d *decoder) summary(sym string, body []byte) *Summary {
	raw, _ := native.View[native.RawSummary](body)
	return &Summary{
		Symbol:                sym,
		DayID:                 d.day("day_id", raw.DayID),
		DayOpenPrice:          d.double("day_open_price", raw.DayOpenPrice),
		DayHighPrice:          d.double("day_high_price", raw.DayHighPrice),
		DayLowPrice:           d.double("day_low_price", raw.DayLowPrice),
		DayClosePrice:         d.double("day_close_price", raw.DayClosePrice),
		PrevDayID:             d.day("prev_day_id", raw.PrevDayID),
		PrevDayClosePrice:     d.double("prev_day_close_price", raw.PrevDayClosePrice),
		PrevDayVolume:         d.double("prev_day_volume", raw.PrevDayVolume),
		OpenInterest:          raw.OpenInterest,
		RawFlags:              raw.RawFlags,
		Exchange:              d.exchange("exchange_code", raw.ExchangeCode),
		DayClosePriceType:     PriceType(d.enum("day_close_price_type", raw.DayClosePriceType, len(priceTypeNames))),
		PrevDayClosePriceType: PriceType(d.enum("prev_day_close_price_type", raw.PrevDayClosePriceType, len(priceTypeNames))),
		Scope:                 Scope(d.enum("scope", raw.Scope, len(scopeNames))),
	}
}

func (d *decoder) profile(sym string, body []byte) *Profile {
	raw, _ := native.View[native.RawProfile](body)
	return &Profile{
		Symbol:               sym,
		Beta:                 d.double("beta", raw.Beta),
		EPS:                  d.double("eps", raw.EPS),
		DivFreq:              d.double("div_freq", raw.DivFreq),
		ExdDivAmount:         d.double("exd_div_amount", raw.ExdDivAmount),
		ExdDivDate:           d.day("exd_div_date", raw.ExdDivDate),
		High52WeekPrice:      d.double("high_52_week_price", raw.High52WeekPrice),
		Low52WeekPrice:       d.double("low_52_week_price", raw.Low52WeekPrice),
		Shares:               d.double("shares", raw.Shares),
		FreeFloat:            d.double("free_float", raw.FreeFloat),
		HighLimitPrice:       d.double("high_limit_price", raw.HighLimitPrice),
		LowLimitPrice:        d.double("low_limit_price", raw.LowLimitPrice),
		HaltStartTime:        d.millis("halt_start_time", raw.HaltStartTime),
		HaltEndTime:          d.millis("halt_end_time", raw.HaltEndTime),
		RawFlags:             raw.RawFlags,
		Description:          d.str("description", 0),
		StatusReason:         d.str("status_reason", 1),
		TradingStatus:        TradingStatus(d.enum("trading_status", raw.TradingStatus, len(tradingStatusNames))),
		ShortSaleRestriction: ShortSaleRestriction(d.enum("ssr", raw.ShortSaleRestriction, len(ssrNames))),
	}
}

type rawOrderBase struct {
	EventFlags   uint32
	Index, Time  int64
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
	ExchangeCode native.Char
	Side         int32
	Scope        int32
}

func (d *decoder) orderBase(r rawOrderBase) OrderBase {
	return OrderBase{
		EventFlags:   r.EventFlags,
		Index:        r.Index,
		Time:         d.eventTime("time", r.Time, r.TimeNanos),
		Sequence:     r.Sequence,
		Action:       OrderAction(d.enum("action", r.Action, len(actionNames))),
		ActionTime:   d.millis("action_time", r.ActionTime),
		OrderID:      r.OrderID,
		AuxOrderID:   r.AuxOrderID,
		Price:        d.double("price", r.Price),
		Size:         d.double("size", r.Size),
		ExecutedSize: d.double("executed_size", r.ExecutedSize),
		Count:        d.double("count", r.Count),
		TradeID:      r.TradeID,
		TradePrice:   d.double("trade_price", r.TradePrice),
		TradeSize:    d.double("trade_size", r.TradeSize),
		Exchange:     d.exchange("exchange_code", r.ExchangeCode),
		Side:         Side(d.enum("side", r.Side, len(sideNames))),
		Scope:        Scope(d.enum("scope", r.Scope, len(scopeNames))),
	}
}

func (d *decoder) order(sym string, body []byte) *Order {
	raw, _ := native.View[native.RawOrder](body)
	return &Order{
		Symbol: sym,
		Source: d.chars("source", raw.Source[:]),
		OrderBase: d.orderBase(rawOrderBase{
			EventFlags: raw.EventFlags, Index: raw.Index, Time: raw.Time,
			Sequence: raw.Sequence, TimeNanos: raw.TimeNanos, Action: raw.Action,
			ActionTime: raw.ActionTime, OrderID: raw.OrderID, AuxOrderID: raw.AuxOrderID,
			Price: raw.Price, Size: raw.Size, ExecutedSize: raw.ExecutedSize, Count: raw.Count,
			TradeID: raw.TradeID, TradePrice: raw.TradePrice, TradeSize: raw.TradeSize,
			ExchangeCode: raw.ExchangeCode, Side: raw.Side, Scope: raw.Scope,
		}),
		MarketMaker: d.str("market_maker", 0),
	}
}

func (d *decoder) spreadOrder(sym string, body []byte) *SpreadOrder {
	raw, _ := native.View[native.RawSpreadOrder](body)
	return &SpreadOrder{
		Symbol: sym,
		OrderBase: d.orderBase(rawOrderBase{
			EventFlags: raw.EventFlags, Index: raw.Index, Time: raw.Time,
			Sequence: raw.Sequence, TimeNanos: raw.TimeNanos, Action: raw.Action,
			ActionTime: raw.ActionTime, OrderID: raw.OrderID, AuxOrderID: raw.AuxOrderID,
			Price: raw.Price, Size: raw.Size, ExecutedSize: raw.ExecutedSize, Count: raw.Count,
			TradeID: raw.TradeID, TradePrice: raw.TradePrice, TradeSize: raw.TradeSize,
			ExchangeCode: raw.ExchangeCode, Side: raw.Side, Scope: raw.Scope,
		}),
		SpreadSymbol: d.str("spread_symbol", 0),
	}
}

func (d *decoder) timeAndSale(sym string, body []byte) *TimeAndSale {
	raw, _ := native.View[native.RawTimeAndSale](body)
	return &TimeAndSale{
		Symbol:                 sym,
		EventFlags:             raw.EventFlags,
		Index:                  raw.Index,
		Time:                   d.millis("time", raw.Time),
		Exchange:               d.exchange("exchange_code", raw.ExchangeCode),
		Price:                  d.double("price", raw.Price),
		Size:                   d.double("size", raw.Size),
		BidPrice:               d.double("bid_price", raw.BidPrice),
		AskPrice:               d.double("ask_price", raw.AskPrice),
		ExchangeSaleConditions: d.str("exchange_sale_conditions", 0),
		RawFlags:               raw.RawFlags,
		Buyer:                  d.str("buyer", 1),
		Seller:                 d.str("seller", 2),
		Side:                   Side(d.enum("side", raw.Side, len(sideNames))),
		Type:                   SaleType(d.enum("type", raw.Type, len(saleTypeNames))),
		ValidTick:              d.flag("is_valid_tick", raw.IsValidTick),
		ETHTrade:               d.flag("is_eth_trade", raw.IsETHTrade),
		TradeThroughExempt:     d.exchange("trade_through_exempt", raw.TradeThroughExempt),
		SpreadLeg:              d.flag("is_spread_leg", raw.IsSpreadLeg),
		Scope:                  Scope(d.enum("scope", raw.Scope, len(scopeNames))),
	}
}

func (d *decoder) candle(sym string, body []byte) *Candle {
	raw, _ := native.View[native.RawCandle](body)
	return &Candle{
		Symbol:        sym,
		EventFlags:    raw.EventFlags,
		Index:         raw.Index,
		Time:          d.millis("time", raw.Time),
		Sequence:      raw.Sequence,
		Count:         d.double("count", raw.Count),
		Open:          d.double("open", raw.Open),
		High:          d.double("high", raw.High),
		Low:           d.double("low", raw.Low),
		Close:         d.double("close", raw.Close),
		Volume:        d.double("volume", raw.Volume),
		VWAP:          d.double("vwap", raw.VWAP),
		BidVolume:     d.double("bid_volume", raw.BidVolume),
		AskVolume:     d.double("ask_volume", raw.AskVolume),
		OpenInterest:  d.double("open_interest", raw.OpenInterest),
		ImpVolatility: d.double("imp_volatility", raw.ImpVolatility),
	}
}

func (d *decoder) greeks(sym string, body []byte) *Greeks {
	raw, _ := native.View[native.RawGreeks](body)
	return &Greeks{
		Symbol:     sym,
		EventFlags: raw.EventFlags,
		Index:      raw.Index,
		Time:       d.millis("time", raw.Time),
		Price:      d.double("price", raw.Price),
		Volatility: d.double("volatility", raw.Volatility),
		Delta:      d.double("delta", raw.Delta),
		Gamma:      d.double("gamma", raw.Gamma),
		Theta:      d.double("theta", raw.Theta),
		Rho:        d.double("rho", raw.Rho),
		Vega:       d.double("vega", raw.Vega),
	}
}

func (d *decoder) theoPrice(sym string, body []byte) *TheoPrice {
	raw, _ := native.View[native.RawTheoPrice](body)
	return &TheoPrice{
		Symbol:          sym,
		Time:            d.millis("time", raw.Time),
		Price:           d.double("price", raw.Price),
		UnderlyingPrice: d.double("underlying_price", raw.UnderlyingPrice),
		Delta:           d.double("delta", raw.Delta),
		Gamma:           d.double("gamma", raw.Gamma),
		Dividend:        d.double("dividend", raw.Dividend),
		Interest:        d.double("interest", raw.Interest),
	}
}

func (d *decoder) underlying(sym string, body []byte) *Underlying {
	raw, _ := native.View[native.RawUnderlying](body)
	return &Underlying{
		Symbol:          sym,
		Volatility:      d.double("volatility", raw.Volatility),
		FrontVolatility: d.double("front_volatility", raw.FrontVolatility),
		BackVolatility:  d.double("back_volatility", raw.BackVolatility),
		CallVolume:      d.double("call_volume", raw.CallVolume),
		PutVolume:       d.double("put_volume", raw.PutVolume),
		OptionVolume:    d.double("option_volume", raw.OptionVolume),
		PutCallRatio:    d.double("put_call_ratio", raw.PutCallRatio),
	}
}

func (d *decoder) series(sym string, body []byte) *Series {
	raw, _ := native.View[native.RawSeries](body)
	return &Series{
		Symbol:       sym,
		EventFlags:   raw.EventFlags,
		Index:        raw.Index,
		Time:         d.millis("time", raw.Time),
		Sequence:     raw.Sequence,
		Expiration:   d.day("expiration", raw.Expiration),
		Volatility:   d.double("volatility", raw.Volatility),
		CallVolume:   d.double("call_volume", raw.CallVolume),
		PutVolume:    d.double("put_volume", raw.PutVolume),
		OptionVolume: d.double("option_volume", raw.OptionVolume),
		PutCallRatio: d.double("put_call_ratio", raw.PutCallRatio),
		ForwardPrice: d.double("forward_price", raw.ForwardPrice),
		Dividend:     d.double("dividend", raw.Dividend),
		Interest:     d.double("interest", raw.Interest),
	}
}

func (d *decoder) configuration(sym string, body []byte) *Configuration {
	raw, _ := native.View[native.RawConfiguration](body)
	return &Configuration{
		Symbol:  sym,
		Version: raw.Version,
		Object:  d.str("object", 0),
	}
}
