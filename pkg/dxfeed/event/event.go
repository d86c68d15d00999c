// Пакет event реализует слой маршалинга: типы событий, наборы типов и
// декодирование нативных записей фиксированной раскладки в собственные
// значения Go.
package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event: декодированное событие. Значение принадлежит вызывающему и
// не ссылается на память нативной библиотеки.
type Event interface {
	Kind() Kind
	EventSymbol() string
}

// Quote: лучшие bid/ask.
type Quote struct {
	Symbol      string              `json:"symbol"`
	Time        Optional[time.Time] `json:"time"`
	Sequence    int32               `json:"sequence"`
	BidTime     Optional[time.Time] `json:"bid_time"`
	BidExchange Optional[Exchange]  `json:"bid_exchange"`
	BidPrice    Optional[float64]   `json:"bid_price"`
	BidSize     Optional[float64]   `json:"bid_size"`
	AskTime     Optional[time.Time] `json:"ask_time"`
	AskExchange Optional[Exchange]  `json:"ask_exchange"`
	AskPrice    Optional[float64]   `json:"ask_price"`
	AskSize     Optional[float64]   `json:"ask_size"`
	Scope       Scope               `json:"scope"`
}

func (*Quote) Kind() Kind { return KindQuote }
func (q *Quote) EventSymbol() string { return q.Symbol }

// Spread возвращает ask-bid без погрешности вычитания float64.
func (q *Quote) Spread() (decimal.Decimal, bool) {
	bid, okB := q.BidPrice.Get()
	ask, okA := q.AskPrice.Get()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(ask).Sub(decimal.NewFromFloat(bid)), true
}

// Mid возвращает середину спреда.
func (q *Quote) Mid() (decimal.Decimal, bool) {
	bid, okB := q.BidPrice.Get()
	ask, okA := q.AskPrice.Get()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(ask).Add(decimal.NewFromFloat(bid)).Div(decimal.NewFromInt(2)), true
}

// Trade: последняя сделка.
type Trade struct {
	Symbol      string              `json:"symbol"`
	Time        Optional[time.Time] `json:"time"`
	Sequence    int32               `json:"sequence"`
	Exchange    Optional[Exchange]  `json:"exchange"`
	Price       Optional[float64]   `json:"price"`
	Size        Optional[float64]   `json:"size"`
	Tick        int32               `json:"tick"`
	Change      Optional[float64]   `json:"change"`
	DayID       Optional[int32]     `json:"day_id"`
	DayVolume   Optional[float64]   `json:"day_volume"`
	DayTurnover Optional[float64]   `json:"day_turnover"`
	RawFlags    int32               `json:"raw_flags"`
	Direction   Direction           `json:"direction"`
	ETH         bool                `json:"eth"`
	Scope       Scope               `json:"scope"`
}

func (*Trade) Kind() Kind { return KindTrade }
func (t *Trade) EventSymbol() string { return t.Symbol }

// TradeETH: сделка расширенной торговой сессии; раскладка как у Trade.
type TradeETH struct {
	Trade
}

func (*TradeETH) Kind() Kind { return KindTradeETH }

// Summary: дневная сводка.
type Summary struct {
	Symbol                string             `json:"symbol"`
	DayID                 Optional[int32]    `json:"day_id"`
	DayOpenPrice          Optional[float64]  `json:"day_open_price"`
	DayHighPrice          Optional[float64]  `json:"day_high_price"`
	DayLowPrice           Optional[float64]  `json:"day_low_price"`
	DayClosePrice         Optional[float64]  `json:"day_close_price"`
	PrevDayID             Optional[int32]    `json:"prev_day_id"`
	PrevDayClosePrice     Optional[float64]  `json:"prev_day_close_price"`
	PrevDayVolume         Optional[float64]  `json:"prev_day_volume"`
	OpenInterest          int64              `json:"open_interest"`
	RawFlags              int32              `json:"raw_flags"`
	Exchange              Optional[Exchange] `json:"exchange"`
	DayClosePriceType     PriceType          `json:"day_close_price_type"`
	PrevDayClosePriceType PriceType          `json:"prev_day_close_price_type"`
	Scope                 Scope              `json:"scope"`
}

func (*Summary) Kind() Kind { return KindSummary }
func (s *Summary) EventSymbol() string { return s.Symbol }

// Profile: справочная информация об инструменте.
type Profile struct {
	Symbol               string               `json:"symbol"`
	Beta                 Optional[float64]    `json:"beta"`
	EPS                  Optional[float64]    `json:"eps"`
	DivFreq              Optional[float64]    `json:"div_freq"`
	ExdDivAmount         Optional[float64]    `json:"exd_div_amount"`
	ExdDivDate           Optional[int32]      `json:"exd_div_date"`
	High52WeekPrice      Optional[float64]    `json:"high_52_week_price"`
	Low52WeekPrice       Optional[float64]    `json:"low_52_week_price"`
	Shares               Optional[float64]    `json:"shares"`
	FreeFloat            Optional[float64]    `json:"free_float"`
	HighLimitPrice       Optional[float64]    `json:"high_limit_price"`
	LowLimitPrice        Optional[float64]    `json:"low_limit_price"`
	HaltStartTime        Optional[time.Time]  `json:"halt_start_time"`
	HaltEndTime          Optional[time.Time]  `json:"halt_end_time"`
	RawFlags             int32                `json:"raw_flags"`
	Description          string               `json:"description"`
	StatusReason         string               `json:"status_reason"`
	TradingStatus        TradingStatus        `json:"trading_status"`
	ShortSaleRestriction ShortSaleRestriction `json:"ssr"`
}

func (*Profile) Kind() Kind { return KindProfile }
func (p *Profile) EventSymbol() string { return p.Symbol }

// OrderBase: общие поля Order и SpreadOrder.
type OrderBase struct {
	EventFlags   uint32              `json:"event_flags"`
	Index        int64               `json:"index"`
	Time         Optional[time.Time] `json:"time"`
	Sequence     int32               `json:"sequence"`
	Action       OrderAction         `json:"action"`
	ActionTime   Optional[time.Time] `json:"action_time"`
	OrderID      int64               `json:"order_id"`
	AuxOrderID   int64               `json:"aux_order_id"`
	Price        Optional[float64]   `json:"price"`
	Size         Optional[float64]   `json:"size"`
	ExecutedSize Optional[float64]   `json:"executed_size"`
	Count        Optional[float64]   `json:"count"`
	TradeID      int64               `json:"trade_id"`
	TradePrice   Optional[float64]   `json:"trade_price"`
	TradeSize    Optional[float64]   `json:"trade_size"`
	Exchange     Optional[Exchange]  `json:"exchange"`
	Side         Side                `json:"side"`
	Scope        Scope               `json:"scope"`
}

// Order: заявка в книге.
type Order struct {
	Symbol string `json:"symbol"`
	Source string `json:"source"`
	OrderBase
	MarketMaker string `json:"market_maker"`
}

func (*Order) Kind() Kind { return KindOrder }
func (o *Order) EventSymbol() string { return o.Symbol }

// SpreadOrder: заявка на спред.
type SpreadOrder struct {
	Symbol string `json:"symbol"`
	OrderBase
	SpreadSymbol string `json:"spread_symbol"`
}

func (*SpreadOrder) Kind() Kind { return KindSpreadOrder }
func (o *SpreadOrder) EventSymbol() string { return o.Symbol }

// TimeAndSale: лента сделок.
type TimeAndSale struct {
	Symbol                 string              `json:"symbol"`
	EventFlags             uint32              `json:"event_flags"`
	Index                  int64               `json:"index"`
	Time                   Optional[time.Time] `json:"time"`
	Exchange               Optional[Exchange]  `json:"exchange"`
	Price                  Optional[float64]   `json:"price"`
	Size                   Optional[float64]   `json:"size"`
	BidPrice               Optional[float64]   `json:"bid_price"`
	AskPrice               Optional[float64]   `json:"ask_price"`
	ExchangeSaleConditions string              `json:"exchange_sale_conditions"`
	RawFlags               int32               `json:"raw_flags"`
	Buyer                  string              `json:"buyer"`
	Seller                 string              `json:"seller"`
	Side                   Side                `json:"side"`
	Type                   SaleType            `json:"type"`
	ValidTick              bool                `json:"valid_tick"`
	ETHTrade               bool                `json:"eth_trade"`
	TradeThroughExempt     Optional[Exchange]  `json:"trade_through_exempt"`
	SpreadLeg              bool                `json:"spread_leg"`
	Scope                  Scope               `json:"scope"`
}

func (*TimeAndSale) Kind() Kind { return KindTimeAndSale }
func (t *TimeAndSale) EventSymbol() string { return t.Symbol }

// Candle: свеча.
type Candle struct {
	Symbol        string              `json:"symbol"`
	EventFlags    uint32              `json:"event_flags"`
	Index         int64               `json:"index"`
	Time          Optional[time.Time] `json:"time"`
	Sequence      int32               `json:"sequence"`
	Count         Optional[float64]   `json:"count"`
	Open          Optional[float64]   `json:"open"`
	High          Optional[float64]   `json:"high"`
	Low           Optional[float64]   `json:"low"`
	Close         Optional[float64]   `json:"close"`
	Volume        Optional[float64]   `json:"volume"`
	VWAP          Optional[float64]   `json:"vwap"`
	BidVolume     Optional[float64]   `json:"bid_volume"`
	AskVolume     Optional[float64]   `json:"ask_volume"`
	OpenInterest  Optional[float64]   `json:"open_interest"`
	ImpVolatility Optional[float64]   `json:"imp_volatility"`
}

func (*Candle) Kind() Kind { return KindCandle }
func (c *Candle) EventSymbol() string { return c.Symbol }

// Greeks: греки опциона.
type Greeks struct {
	Symbol     string              `json:"symbol"`
	EventFlags uint32              `json:"event_flags"`
	Index      int64               `json:"index"`
	Time       Optional[time.Time] `json:"time"`
	Price      Optional[float64]   `json:"price"`
	Volatility Optional[float64]   `json:"volatility"`
	Delta      Optional[float64]   `json:"delta"`
	Gamma      Optional[float64]   `json:"gamma"`
	Theta      Optional[float64]   `json:"theta"`
	Rho        Optional[float64]   `json:"rho"`
	Vega       Optional[float64]   `json:"vega"`
}

func (*Greeks) Kind() Kind { return KindGreeks }
func (g *Greeks) EventSymbol() string { return g.Symbol }

// TheoPrice: теоретическая цена опциона.
type TheoPrice struct {
	Symbol          string              `json:"symbol"`
	Time            Optional[time.Time] `json:"time"`
	Price           Optional[float64]   `json:"price"`
	UnderlyingPrice Optional[float64]   `json:"underlying_price"`
	Delta           Optional[float64]   `json:"delta"`
	Gamma           Optional[float64]   `json:"gamma"`
	Dividend        Optional[float64]   `json:"dividend"`
	Interest        Optional[float64]   `json:"interest"`
}

func (*TheoPrice) Kind() Kind { return KindTheoPrice }
func (t *TheoPrice) EventSymbol() string { return t.Symbol }

// Underlying: показатели базового актива.
type Underlying struct {
	Symbol          string            `json:"symbol"`
	Volatility      Optional[float64] `json:"volatility"`
	FrontVolatility Optional[float64] `json:"front_volatility"`
	BackVolatility  Optional[float64] `json:"back_volatility"`
	CallVolume      Optional[float64] `json:"call_volume"`
	PutVolume       Optional[float64] `json:"put_volume"`
	OptionVolume    Optional[float64] `json:"option_volume"`
	PutCallRatio    Optional[float64] `json:"put_call_ratio"`
}

func (*Underlying) Kind() Kind { return KindUnderlying }
func (u *Underlying) EventSymbol() string { return u.Symbol }

// Series: показатели серии опционов.
type Series struct {
	Symbol       string              `json:"symbol"`
	EventFlags   uint32              `json:"event_flags"`
	Index        int64               `json:"index"`
	Time         Optional[time.Time] `json:"time"`
	Sequence     int32               `json:"sequence"`
	Expiration   Optional[int32]     `json:"expiration"`
	Volatility   Optional[float64]   `json:"volatility"`
	CallVolume   Optional[float64]   `json:"call_volume"`
	PutVolume    Optional[float64]   `json:"put_volume"`
	OptionVolume Optional[float64]   `json:"option_volume"`
	PutCallRatio Optional[float64]   `json:"put_call_ratio"`
	ForwardPrice Optional[float64]   `json:"forward_price"`
	Dividend     Optional[float64]   `json:"dividend"`
	Interest     Optional[float64]   `json:"interest"`
}

func (*Series) Kind() Kind { return KindSeries }
func (s *Series) EventSymbol() string { return s.Symbol }

// Configuration: конфигурационное сообщение фида.
type Configuration struct {
	Symbol  string `json:"symbol"`
	Version int32  `json:"version"`
	Object  string `json:"object"`
}

func (*Configuration) Kind() Kind { return KindConfiguration }
func (c *Configuration) EventSymbol() string { return c.Symbol }
