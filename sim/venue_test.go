package sim

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/backsim/ledger"
	"github.com/rustyeddy/backsim/market"
)

var (
	vt0  = time.Date(2013, 1, 1, 0, 1, 0, 0, time.UTC)
	inst = market.FXInstrument("EUR/USD", "SIM")

	bidBT = market.BarType{InstrumentID: inst.ID(), Spec: market.BarSpec{Step: 1, Aggregation: market.Minute, PriceSide: market.BidSide}}
	askBT = market.BarType{InstrumentID: inst.ID(), Spec: market.BarSpec{Step: 1, Aggregation: market.Minute, PriceSide: market.AskSide}}
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func bar(o, h, l, c string, minute int) market.Bar {
	return market.Bar{
		Open: d(o), High: d(h), Low: d(l), Close: d(c),
		Volume: decimal.NewFromInt(100),
		Time:   vt0.Add(time.Duration(minute) * time.Minute),
	}
}

func flat(price string, minute int) market.Bar {
	return bar(price, price, price, price, minute)
}

type eventLog struct {
	events []OrderEvent
}

func (e *eventLog) handler(ev OrderEvent) { e.events = append(e.events, ev) }

func (e *eventLog) kinds() []OrderEventKind {
	out := make([]OrderEventKind, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Kind
	}
	return out
}

func (e *eventLog) last() OrderEvent { return e.events[len(e.events)-1] }

func testVenue(t *testing.T, model *FillModel) (*Venue, *ledger.Ledger, *eventLog) {
	t.Helper()
	led := ledger.New("USD", d("1000000"), market.Netting)
	v := NewVenue("SIM", []market.Instrument{inst}, led, model, nil)
	el := &eventLog{}
	v.SetHandler(el.handler)
	return v, led, el
}

// seedQuote advances the venue to minute with a flat bid/ask pair.
func seedQuote(t *testing.T, v *Venue, bid, ask string, minute int) {
	t.Helper()
	require.NoError(t, v.ProcessBar(bidBT, flat(bid, minute)))
	require.NoError(t, v.ProcessBar(askBT, flat(ask, minute)))
}

func marketBuy(qty string) OrderCommand {
	return OrderCommand{
		StrategyID:   "s",
		InstrumentID: inst.ID(),
		Side:         market.Buy,
		Type:         market.MarketOrder,
		Quantity:     d(qty),
	}
}

func TestMarketBuyFillsAtAsk(t *testing.T) {
	v, led, el := testVenue(t, PerfectFillModel())
	seedQuote(t, v, "1.30000", "1.30010", 0)

	id, err := v.Submit(marketBuy("100000"))
	require.NoError(t, err)
	assert.Equal(t, "O-1", id)

	o, ok := led.Order(id)
	require.True(t, ok)
	assert.Equal(t, ledger.Filled, o.Status)
	assert.True(t, o.FilledQty.Equal(d("100000")))
	assert.True(t, o.AvgFillPrice.Equal(d("1.30010")))

	assert.Equal(t, []OrderEventKind{OrderSubmitted, OrderAccepted, OrderFilled}, el.kinds())
	fillEv := el.last()
	require.NotNil(t, fillEv.Fill)
	assert.Equal(t, "F-1", fillEv.Fill.ID)
	assert.True(t, fillEv.Fill.Price.Equal(d("1.30010")))

	pos := led.OpenPositions()
	require.Len(t, pos, 1)
	assert.True(t, pos[0].Quantity.Equal(d("100000")))
}

func TestMarketSellFillsAtBid(t *testing.T) {
	v, led, _ := testVenue(t, PerfectFillModel())
	seedQuote(t, v, "1.30000", "1.30010", 0)

	cmd := marketBuy("100000")
	cmd.Side = market.Sell
	id, err := v.Submit(cmd)
	require.NoError(t, err)

	o, _ := led.Order(id)
	assert.Equal(t, ledger.Filled, o.Status)
	assert.True(t, o.AvgFillPrice.Equal(d("1.30000")))
}

func TestMarketOrderSlippage(t *testing.T) {
	alwaysSlip, err := NewFillModel(1, 1, 1, 7)
	require.NoError(t, err)
	v, led, _ := testVenue(t, alwaysSlip)
	seedQuote(t, v, "1.30000", "1.30010", 0)

	id, err := v.Submit(marketBuy("100000"))
	require.NoError(t, err)

	// one increment against the buyer
	o, _ := led.Order(id)
	assert.True(t, o.AvgFillPrice.Equal(d("1.30011")), o.AvgFillPrice.String())
}

func TestSubmitRejections(t *testing.T) {
	v, led, el := testVenue(t, PerfectFillModel())

	// no market data yet
	id, err := v.Submit(marketBuy("100000"))
	require.NoError(t, err)
	o, _ := led.Order(id)
	assert.Equal(t, ledger.Rejected, o.Status)
	assert.Equal(t, OrderRejected, el.last().Kind)

	seedQuote(t, v, "1.30000", "1.30010", 0)

	// unknown instrument
	cmd := marketBuy("100000")
	cmd.InstrumentID = "GBP/USD.SIM"
	id, err = v.Submit(cmd)
	require.NoError(t, err)
	o, _ = led.Order(id)
	assert.Equal(t, ledger.Rejected, o.Status)

	// below minimum size
	id, _ = v.Submit(marketBuy("0"))
	o, _ = led.Order(id)
	assert.Equal(t, ledger.Rejected, o.Status)

	// missing side
	cmd = marketBuy("100000")
	cmd.Side = 0
	id, _ = v.Submit(cmd)
	o, _ = led.Order(id)
	assert.Equal(t, ledger.Rejected, o.Status)

	// conditional order without a price
	cmd = marketBuy("100000")
	cmd.Type = market.LimitOrder
	id, _ = v.Submit(cmd)
	o, _ = led.Order(id)
	assert.Equal(t, ledger.Rejected, o.Status)

	// a rejected order never reaches the book
	assert.Empty(t, led.OpenPositions())
}

func TestMarginRejection(t *testing.T) {
	v, led, el := testVenue(t, PerfectFillModel())
	seedQuote(t, v, "1.30000", "1.30010", 0)

	// 50M * 1.3001 * 2% margin is far beyond 1M free margin
	id, err := v.Submit(marketBuy("50000000"))
	require.NoError(t, err)

	o, _ := led.Order(id)
	assert.Equal(t, ledger.Rejected, o.Status)
	assert.Equal(t, ErrMarginExceeded.Error(), o.Reason)
	assert.Equal(t, OrderRejected, el.last().Kind)

	// account untouched
	assert.True(t, led.Account().Balance.Equal(d("1000000")))
	assert.Empty(t, led.OpenPositions())

	// an affordable order still goes through
	id, err = v.Submit(marketBuy("100000"))
	require.NoError(t, err)
	o, _ = led.Order(id)
	assert.Equal(t, ledger.Filled, o.Status)
}

func TestLimitOrderNotEvaluatedUntilNextBar(t *testing.T) {
	v, led, _ := testVenue(t, PerfectFillModel())
	seedQuote(t, v, "1.30000", "1.30010", 0)

	cmd := marketBuy("100000")
	cmd.Type = market.LimitOrder
	cmd.Price = d("1.29990")
	id, err := v.Submit(cmd)
	require.NoError(t, err)

	// the same step's bar crosses the level but the order is not yet working
	require.NoError(t, v.ProcessBar(askBT, bar("1.30010", "1.30010", "1.29900", "1.30000", 0)))
	o, _ := led.Order(id)
	assert.Equal(t, ledger.Accepted, o.Status)

	v.EndStep()

	// next bar crossing strictly through the level always fills, at the limit
	require.NoError(t, v.ProcessBar(askBT, bar("1.30000", "1.30000", "1.29950", "1.29980", 1)))
	o, _ = led.Order(id)
	assert.Equal(t, ledger.Filled, o.Status)
	assert.True(t, o.AvgFillPrice.Equal(d("1.29990")))
}

func TestLimitOrderIgnoresSiblingBarAtSameTimestamp(t *testing.T) {
	v, led, _ := testVenue(t, PerfectFillModel())
	seedQuote(t, v, "1.30000", "1.30010", 0)

	// order placed in reaction to the bid bar at minute 1
	require.NoError(t, v.ProcessBar(bidBT, flat("1.30000", 1)))
	cmd := marketBuy("100000")
	cmd.Type = market.LimitOrder
	cmd.Price = d("1.29990")
	id, err := v.Submit(cmd)
	require.NoError(t, err)
	v.EndStep()

	// the ask bar carrying the same timestamp crosses the level but was
	// not observable when the order was placed
	require.NoError(t, v.ProcessBar(askBT, bar("1.30010", "1.30010", "1.29900", "1.30000", 1)))
	o, _ := led.Order(id)
	assert.Equal(t, ledger.Accepted, o.Status)

	// a strictly later ask bar fills it at the limit
	require.NoError(t, v.ProcessBar(askBT, bar("1.30000", "1.30000", "1.29950", "1.29980", 2)))
	o, _ = led.Order(id)
	assert.Equal(t, ledger.Filled, o.Status)
	assert.True(t, o.AvgFillPrice.Equal(d("1.29990")))
}

func TestLimitExactTouchConsultsModel(t *testing.T) {
	never, err := NewFillModel(0, 1, 0, 7)
	require.NoError(t, err)
	v, led, _ := testVenue(t, never)
	seedQuote(t, v, "1.30000", "1.30010", 0)

	cmd := marketBuy("100000")
	cmd.Type = market.LimitOrder
	cmd.Price = d("1.29990")
	id, _ := v.Submit(cmd)
	v.EndStep()

	// low exactly at the level, prob 0: stays working
	touch := bar("1.30000", "1.30000", "1.29990", "1.29995", 1)
	require.NoError(t, v.ProcessBar(askBT, touch))
	o, _ := led.Order(id)
	assert.Equal(t, ledger.Accepted, o.Status)

	// certain model fills the same touch
	v2, led2, _ := testVenue(t, PerfectFillModel())
	seedQuote(t, v2, "1.30000", "1.30010", 0)
	id2, _ := v2.Submit(cmd)
	v2.EndStep()
	require.NoError(t, v2.ProcessBar(askBT, touch))
	o2, _ := led2.Order(id2)
	assert.Equal(t, ledger.Filled, o2.Status)
}

func TestLimitSellMatchesOnBidSide(t *testing.T) {
	v, led, _ := testVenue(t, PerfectFillModel())
	seedQuote(t, v, "1.30000", "1.30010", 0)

	cmd := marketBuy("100000")
	cmd.Side = market.Sell
	cmd.Type = market.LimitOrder
	cmd.Price = d("1.30020")
	id, _ := v.Submit(cmd)
	v.EndStep()

	// ask-side bar crossing the level is the wrong book side for a sell
	require.NoError(t, v.ProcessBar(askBT, bar("1.30010", "1.30050", "1.30010", "1.30040", 1)))
	o, _ := led.Order(id)
	assert.Equal(t, ledger.Accepted, o.Status)

	// bid-side cross fills it
	require.NoError(t, v.ProcessBar(bidBT, bar("1.30000", "1.30040", "1.30000", "1.30030", 1)))
	o, _ = led.Order(id)
	assert.Equal(t, ledger.Filled, o.Status)
	assert.True(t, o.AvgFillPrice.Equal(d("1.30020")))
}

func TestStopOrderTriggersWithSlippage(t *testing.T) {
	alwaysSlip, err := NewFillModel(1, 1, 1, 7)
	require.NoError(t, err)
	v, led, _ := testVenue(t, alwaysSlip)
	seedQuote(t, v, "1.30000", "1.30010", 0)

	cmd := marketBuy("100000")
	cmd.Type = market.StopOrder
	cmd.Price = d("1.30050")
	id, _ := v.Submit(cmd)
	v.EndStep()

	// high strictly above the stop triggers; slip adds one increment
	require.NoError(t, v.ProcessBar(askBT, bar("1.30010", "1.30080", "1.30010", "1.30070", 1)))
	o, _ := led.Order(id)
	assert.Equal(t, ledger.Filled, o.Status)
	assert.True(t, o.AvgFillPrice.Equal(d("1.30051")), o.AvgFillPrice.String())
}

func TestStopSellTriggersBelow(t *testing.T) {
	v, led, _ := testVenue(t, PerfectFillModel())
	seedQuote(t, v, "1.30000", "1.30010", 0)

	cmd := marketBuy("100000")
	cmd.Side = market.Sell
	cmd.Type = market.StopOrder
	cmd.Price = d("1.29950")
	id, _ := v.Submit(cmd)
	v.EndStep()

	require.NoError(t, v.ProcessBar(bidBT, bar("1.30000", "1.30000", "1.29900", "1.29920", 1)))
	o, _ := led.Order(id)
	assert.Equal(t, ledger.Filled, o.Status)
	assert.True(t, o.AvgFillPrice.Equal(d("1.29950")))
}

func TestCancelWorkingOrder(t *testing.T) {
	v, led, el := testVenue(t, PerfectFillModel())
	seedQuote(t, v, "1.30000", "1.30010", 0)

	cmd := marketBuy("100000")
	cmd.Type = market.LimitOrder
	cmd.Price = d("1.29000")
	id, _ := v.Submit(cmd)
	v.EndStep()

	require.NoError(t, v.Cancel(id, "strategy exit"))
	o, _ := led.Order(id)
	assert.Equal(t, ledger.Canceled, o.Status)
	assert.Equal(t, "strategy exit", o.Reason)
	assert.Equal(t, OrderCanceled, el.last().Kind)

	// canceled orders are out of the book for good
	require.NoError(t, v.ProcessBar(askBT, bar("1.30000", "1.30000", "1.28000", "1.28500", 1)))
	o, _ = led.Order(id)
	assert.Equal(t, ledger.Canceled, o.Status)

	assert.Error(t, v.Cancel("O-99", ""))
	assert.Error(t, v.Cancel(id, "")) // already terminal
}

func TestModifyWorkingOrder(t *testing.T) {
	v, led, el := testVenue(t, PerfectFillModel())
	seedQuote(t, v, "1.30000", "1.30010", 0)

	cmd := marketBuy("100000")
	cmd.Type = market.LimitOrder
	cmd.Price = d("1.29000")
	id, _ := v.Submit(cmd)

	require.NoError(t, v.Modify(id, d("150000"), d("1.29500")))
	o, _ := led.Order(id)
	assert.True(t, o.Quantity.Equal(d("150000")))
	assert.True(t, o.Price.Equal(d("1.29500")))
	assert.Equal(t, OrderModified, el.last().Kind)

	// zero fields leave values alone
	require.NoError(t, v.Modify(id, decimal.Zero, decimal.Zero))
	o, _ = led.Order(id)
	assert.True(t, o.Quantity.Equal(d("150000")))

	assert.Error(t, v.Modify("O-99", d("1"), decimal.Zero))

	// filled market orders cannot be amended
	mid, err := v.Submit(marketBuy("100000"))
	require.NoError(t, err)
	assert.Error(t, v.Modify(mid, d("200000"), decimal.Zero))
}

func TestOrderExpiry(t *testing.T) {
	v, led, el := testVenue(t, PerfectFillModel())
	seedQuote(t, v, "1.30000", "1.30010", 0)

	cmd := marketBuy("100000")
	cmd.Type = market.LimitOrder
	cmd.Price = d("1.29000")
	cmd.ExpireTime = vt0.Add(2 * time.Minute)
	id, _ := v.Submit(cmd)
	v.EndStep()

	// before expiry the order rests
	require.NoError(t, v.ProcessBar(askBT, flat("1.30010", 1)))
	o, _ := led.Order(id)
	assert.Equal(t, ledger.Accepted, o.Status)

	// at the expire time it retires before matching
	require.NoError(t, v.ProcessBar(askBT, bar("1.30010", "1.30010", "1.28000", "1.28500", 2)))
	o, _ = led.Order(id)
	assert.Equal(t, ledger.Expired, o.Status)
	assert.Equal(t, OrderExpired, el.last().Kind)
}

func TestRevalueTracksEquityAndMargin(t *testing.T) {
	v, led, _ := testVenue(t, PerfectFillModel())
	seedQuote(t, v, "1.30000", "1.30010", 0)

	_, err := v.Submit(marketBuy("100000"))
	require.NoError(t, err)

	// marked long at bid: (1.30000 - 1.30010) * 100000 = -10 unrealized
	acct := led.Account()
	assert.True(t, acct.Equity.Equal(d("999990")), acct.Equity.String())
	// margin at mid 1.30005: 100000 * 1.30005 * 0.02 = 2600.1
	assert.True(t, acct.MarginUsed.Equal(d("2600.1")), acct.MarginUsed.String())

	// price moves up 10 pips: (1.30100 - 1.30010) * 100000 = 90
	seedQuote(t, v, "1.30100", "1.30110", 1)
	acct = led.Account()
	assert.True(t, acct.Equity.Equal(d("1000090")), acct.Equity.String())
}

func TestNettingReversal(t *testing.T) {
	v, led, _ := testVenue(t, PerfectFillModel())
	seedQuote(t, v, "1.30000", "1.30010", 0)

	_, err := v.Submit(marketBuy("100000"))
	require.NoError(t, err)

	// sell 150k flips the net position short 50k
	cmd := marketBuy("150000")
	cmd.Side = market.Sell
	_, err = v.Submit(cmd)
	require.NoError(t, err)

	pos := led.OpenPositions()
	require.Len(t, pos, 1)
	assert.True(t, pos[0].Quantity.Equal(d("-50000")))
	require.NoError(t, led.CheckInvariants())
}

func TestSequentialIDs(t *testing.T) {
	v, led, _ := testVenue(t, PerfectFillModel())
	seedQuote(t, v, "1.30000", "1.30010", 0)

	id1, _ := v.Submit(marketBuy("100000"))
	id2, _ := v.Submit(marketBuy("100000"))
	assert.Equal(t, "O-1", id1)
	assert.Equal(t, "O-2", id2)

	snap := led.Snapshot()
	require.Len(t, snap.Fills, 2)
	assert.Equal(t, "F-1", snap.Fills[0].ID)
	assert.Equal(t, "F-2", snap.Fills[1].ID)
}

func TestQuote(t *testing.T) {
	v, _, _ := testVenue(t, PerfectFillModel())

	_, _, ok := v.Quote(inst.ID())
	assert.False(t, ok)

	// one side of the book is not a quote
	require.NoError(t, v.ProcessBar(bidBT, flat("1.30000", 0)))
	_, _, ok = v.Quote(inst.ID())
	assert.False(t, ok)

	require.NoError(t, v.ProcessBar(askBT, flat("1.30010", 0)))
	bid, ask, ok := v.Quote(inst.ID())
	require.True(t, ok)
	assert.True(t, bid.Equal(d("1.30000")))
	assert.True(t, ask.Equal(d("1.30010")))
}

func TestCancelAllWorking(t *testing.T) {
	v, led, _ := testVenue(t, PerfectFillModel())
	seedQuote(t, v, "1.30000", "1.30010", 0)

	cmd := marketBuy("100000")
	cmd.Type = market.LimitOrder
	cmd.Price = d("1.29000")
	id1, _ := v.Submit(cmd)
	v.EndStep()
	id2, _ := v.Submit(cmd) // still pending

	v.CancelAllWorking("teardown")

	for _, id := range []string{id1, id2} {
		o, _ := led.Order(id)
		assert.Equal(t, ledger.Canceled, o.Status)
		assert.Equal(t, "teardown", o.Reason)
	}
}
