package sim

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native"
)

// Generator публикует синтетические Quote/Trade/Summary для всех
// подписанных символов. Записи доставляются на потоке соединения.
type Generator struct {
	lib      *Library
	interval time.Duration

	mu     sync.Mutex
	rnd    *rand.Rand
	prices map[string]float64
	seq    int32
}

// NewGenerator создаёт генератор с детерминированным seed.
func NewGenerator(lib *Library, interval time.Duration, seed uint64) *Generator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Generator{
		lib:      lib,
		interval: interval,
		rnd:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		prices:   make(map[string]float64),
	}
}

// Run публикует тики до отмены ctx.
func (g *Generator) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.Tick(time.Now())
		}
	}
}

type target struct {
	conn    *conn
	kinds   int32
	symbols []string
}

// Tick публикует по одной записи на каждый (символ, тип) и возвращает
// число поставленных в очередь записей.
func (g *Generator) Tick(now time.Time) int {
	g.lib.mu.Lock()
	targets := make([]target, 0, len(g.lib.subs))
	for _, s := range g.lib.subs {
		if len(s.listeners) == 0 {
			continue
		}
		targets = append(targets, target{conn: s.conn, kinds: s.kinds, symbols: sortedSymbols(s)})
	}
	g.lib.mu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for _, t := range targets {
		for _, sym := range t.symbols {
			for _, rec := range g.records(now, t.kinds, sym) {
				g.lib.publishOn(t.conn, rec)
				n++
			}
		}
	}
	return n
}

func (g *Generator) records(now time.Time, kinds int32, sym string) []*native.Record {
	price := g.walk(sym)
	ms := now.UnixMilli()
	g.seq++

	var out []*native.Record
	if kinds&native.ETQuote != 0 {
		half := round2(0.01 + g.rnd.Float64()*0.04)
		out = append(out, NewRecord(native.ETQuote, sym, native.RawQuote{
			Time:            ms,
			Sequence:        g.seq,
			BidTime:         ms,
			BidExchangeCode: 'Q',
			BidPrice:        round2(price - half),
			BidSize:         float64(100 * (1 + g.rnd.IntN(10))),
			AskTime:         ms,
			AskExchangeCode: 'Q',
			AskPrice:        round2(price + half),
			AskSize:         float64(100 * (1 + g.rnd.IntN(10))),
		}))
	}
	if kinds&native.ETTrade != 0 {
		out = append(out, NewRecord(native.ETTrade, sym, native.RawTrade{
			Time:         ms,
			Sequence:     g.seq,
			ExchangeCode: 'Q',
			Price:        price,
			Size:         float64(1 + g.rnd.IntN(500)),
			DayID:        int32(now.Unix() / 86400),
			DayVolume:    math.NaN(),
			DayTurnover:  math.NaN(),
		}))
	}
	if kinds&native.ETSummary != 0 {
		day := int32(now.Unix() / 86400)
		out = append(out, NewRecord(native.ETSummary, sym, native.RawSummary{
			DayID:             day,
			DayOpenPrice:      price,
			DayHighPrice:      price,
			DayLowPrice:       price,
			DayClosePrice:     math.NaN(),
			PrevDayID:         day - 1,
			PrevDayClosePrice: price,
			PrevDayVolume:     math.NaN(),
			ExchangeCode:      'Q',
		}))
	}
	return out
}

// walk: случайное блуждание цены символа.
func (g *Generator) walk(sym string) float64 {
	p, ok := g.prices[sym]
	if !ok {
		p = 50 + g.rnd.Float64()*200
	}
	p = round2(math.Max(1, p*(1+(g.rnd.Float64()-0.5)*0.002)))
	g.prices[sym] = p
	return p
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
