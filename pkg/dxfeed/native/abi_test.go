package native

import (
	"testing"
	"unsafe"
)

func TestLayouts(t *testing.T) {
	tests := []struct {
		kind    int32
		size    uintptr
		strings int
	}{
		{ETTrade, unsafe.Sizeof(RawTrade{}), 0},
		{ETQuote, unsafe.Sizeof(RawQuote{}), 0},
		{ETProfile, unsafe.Sizeof(RawProfile{}), 2},
		{ETOrder, unsafe.Sizeof(RawOrder{}), 1},
		{ETTimeAndSale, unsafe.Sizeof(RawTimeAndSale{}), 3},
		{ETTradeETH, unsafe.Sizeof(RawTrade{}), 0},
		{ETConfiguration, unsafe.Sizeof(RawConfiguration{}), 1},
	}
	for _, tc := range tests {
		l, ok := LayoutOf(tc.kind)
		if !ok {
			t.Errorf("%#x: no layout", tc.kind)
			continue
		}
		if l.Size != tc.size || len(l.Strings) != tc.strings {
			t.Errorf("%s: size=%d strings=%d, want %d/%d", l.Name, l.Size, len(l.Strings), tc.size, tc.strings)
		}
	}
}

func TestQuoteLayoutMatchesC(t *testing.T) {
	// dxf_quote_t на LP64.
	if s := unsafe.Sizeof(RawQuote{}); s != 88 {
		t.Errorf("sizeof(dxf_quote_t)=%d, want 88", s)
	}
	if o := unsafe.Offsetof(RawQuote{}.BidPrice); o != 32 {
		t.Errorf("offsetof(bid_price)=%d, want 32", o)
	}
	if o := unsafe.Offsetof(RawQuote{}.Scope); o != 80 {
		t.Errorf("offsetof(scope)=%d, want 80", o)
	}
}

func TestEventID(t *testing.T) {
	for _, bad := range []int32{0, -1, ETQuote | ETTrade, 1 << 20} {
		if _, ok := EventID(bad); ok {
			t.Errorf("EventID(%#x) must fail", bad)
		}
	}
	if id, ok := EventID(ETConfiguration); !ok || id != EventIDConfiguration {
		t.Errorf("EventID(Configuration)=%d,%v", id, ok)
	}
}

func TestEncodeView(t *testing.T) {
	in := RawQuote{Time: 1, BidPrice: 2.5, Scope: 3}
	b := Encode(in)
	out, ok := View[RawQuote](b)
	if !ok || out != in {
		t.Errorf("View(Encode(x)) = %+v, %v", out, ok)
	}
	if _, ok := View[RawQuote](b[:10]); ok {
		t.Error("short body must fail")
	}
	if tok1, tok2 := NewToken(), NewToken(); tok2 <= tok1 {
		t.Errorf("tokens must grow: %d, %d", tok1, tok2)
	}
}
