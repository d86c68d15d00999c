package event

import "strconv"

// Exchange: код биржи (один символ).
type Exchange rune

func (e Exchange) String() string { return string(rune(e)) }

func (e Exchange) MarshalText() ([]byte, error) { return []byte(string(rune(e))), nil }

// enumText возвращает имя значения из таблицы или число.
func enumText(names []string, v int32) string {
	if v >= 0 && int(v) < len(names) {
		return names[v]
	}
	return strconv.Itoa(int(v))
}

// Scope: dxf_order_scope_t.
type Scope int32

const (
	ScopeComposite Scope = iota
	ScopeRegional
	ScopeAggregate
	ScopeOrder
)

var scopeNames = []string{"composite", "regional", "aggregate", "order"}

func (s Scope) String() string { return enumText(scopeNames, int32(s)) }
func (s Scope) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Side: dxf_order_side_t.
type Side int32

const (
	SideUndefined Side = iota
	SideBuy
	SideSell
)

var sideNames = []string{"undefined", "buy", "sell"}

func (s Side) String() string { return enumText(sideNames, int32(s)) }
func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Direction: dxf_direction_t, направление тика.
type Direction int32

const (
	DirectionUndefined Direction = iota
	DirectionDown
	DirectionZeroDown
	DirectionZero
	DirectionZeroUp
	DirectionUp
)

var directionNames = []string{"undefined", "down", "zero_down", "zero", "zero_up", "up"}

func (d Direction) String() string { return enumText(directionNames, int32(d)) }
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// OrderAction: dxf_order_action_t.
type OrderAction int32

const (
	ActionUndefined OrderAction = iota
	ActionNew
	ActionReplace
	ActionModify
	ActionDelete
	ActionPartial
	ActionExecute
	ActionTrade
	ActionBust
)

var actionNames = []string{"undefined", "new", "replace", "modify", "delete", "partial", "execute", "trade", "bust"}

func (a OrderAction) String() string { return enumText(actionNames, int32(a)) }
func (a OrderAction) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// PriceType: dxf_price_type_t.
type PriceType int32

const (
	PriceRegular PriceType = iota
	PriceIndicative
	PricePreliminary
	PriceFinal
)

var priceTypeNames = []string{"regular", "indicative", "preliminary", "final"}

func (p PriceType) String() string { return enumText(priceTypeNames, int32(p)) }
func (p PriceType) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// SaleType: dxf_tns_type_t.
type SaleType int32

const (
	SaleNew SaleType = iota
	SaleCorrection
	SaleCancel
)

var saleTypeNames = []string{"new", "correction", "cancel"}

func (t SaleType) String() string { return enumText(saleTypeNames, int32(t)) }
func (t SaleType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// TradingStatus: dxf_trading_status_t.
type TradingStatus int32

const (
	TradingUndefined TradingStatus = iota
	TradingHalted
	TradingActive
)

var tradingStatusNames = []string{"undefined", "halted", "active"}

func (s TradingStatus) String() string { return enumText(tradingStatusNames, int32(s)) }
func (s TradingStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ShortSaleRestriction: dxf_short_sale_restriction_t.
type ShortSaleRestriction int32

const (
	SSRUndefined ShortSaleRestriction = iota
	SSRActive
	SSRInactive
)

var ssrNames = []string{"undefined", "active", "inactive"}

func (s ShortSaleRestriction) String() string { return enumText(ssrNames, int32(s)) }
func (s ShortSaleRestriction) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
