package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/backsim/market"
)

var fillTime = time.Date(2013, 1, 1, 0, 1, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestLedger() *Ledger {
	return New("USD", d("1000000"), market.Netting)
}

func fill(id string, side market.Side, qty, price string) FillEvent {
	return FillEvent{
		ID:           id,
		OrderID:      "O-1",
		PositionID:   "P-s-EUR/USD.SIM",
		StrategyID:   "s",
		InstrumentID: "EUR/USD.SIM",
		Side:         side,
		Quantity:     d(qty),
		Price:        d(price),
		Time:         fillTime,
	}
}

func TestApplyOpensPosition(t *testing.T) {
	l := newTestLedger()

	require.NoError(t, l.Apply(fill("F-1", market.Buy, "100000", "1.30000")))

	pos := l.OpenPositions()
	require.Len(t, pos, 1)
	assert.True(t, pos[0].Quantity.Equal(d("100000")))
	assert.True(t, pos[0].AvgPrice.Equal(d("1.30000")))
	assert.True(t, pos[0].RealizedPnL.IsZero())
	assert.Equal(t, fillTime, pos[0].OpenTime)

	// pure increase moves no cash
	assert.True(t, l.Account().Balance.Equal(d("1000000")))
}

func TestApplyIdempotent(t *testing.T) {
	l := newTestLedger()
	f := fill("F-1", market.Buy, "100000", "1.30000")

	require.NoError(t, l.Apply(f))
	err := l.Apply(f)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateFill)

	// state unchanged by the duplicate
	pos := l.OpenPositions()
	require.Len(t, pos, 1)
	assert.True(t, pos[0].Quantity.Equal(d("100000")))
	assert.Equal(t, 1, pos[0].FillCount)
	require.NoError(t, l.CheckInvariants())
}

func TestApplyWeightedAverage(t *testing.T) {
	l := newTestLedger()

	require.NoError(t, l.Apply(fill("F-1", market.Buy, "100000", "1.30000")))
	require.NoError(t, l.Apply(fill("F-2", market.Buy, "50000", "1.33000")))

	pos := l.OpenPositions()
	require.Len(t, pos, 1)
	assert.True(t, pos[0].Quantity.Equal(d("150000")))
	// (100000*1.30 + 50000*1.33) / 150000 = 1.31
	assert.True(t, pos[0].AvgPrice.Equal(d("1.31")), pos[0].AvgPrice.String())
}

func TestApplyRealizesOnDecrease(t *testing.T) {
	l := newTestLedger()

	require.NoError(t, l.Apply(fill("F-1", market.Buy, "100000", "1.30000")))
	require.NoError(t, l.Apply(fill("F-2", market.Sell, "40000", "1.31000")))

	pos := l.OpenPositions()
	require.Len(t, pos, 1)
	assert.True(t, pos[0].Quantity.Equal(d("60000")))
	// avg untouched by the partial close
	assert.True(t, pos[0].AvgPrice.Equal(d("1.30000")))
	// (1.31 - 1.30) * 40000 = 400
	assert.True(t, pos[0].RealizedPnL.Equal(d("400")), pos[0].RealizedPnL.String())
	assert.True(t, l.Account().Balance.Equal(d("1000400")))
	require.NoError(t, l.CheckInvariants())
}

func TestApplyFullCloseAndFlip(t *testing.T) {
	l := newTestLedger()

	require.NoError(t, l.Apply(fill("F-1", market.Buy, "100000", "1.30000")))
	// sell 150k: closes 100k at +100 pips, opens 50k short at 1.31
	require.NoError(t, l.Apply(fill("F-2", market.Sell, "150000", "1.31000")))

	pos := l.OpenPositions()
	require.Len(t, pos, 1)
	assert.True(t, pos[0].Quantity.Equal(d("-50000")))
	assert.True(t, pos[0].AvgPrice.Equal(d("1.31000")))
	assert.True(t, pos[0].RealizedPnL.Equal(d("1000")))
	assert.Equal(t, fillTime, pos[0].OpenTime)

	// short loses when price rises: close at 1.32
	require.NoError(t, l.Apply(fill("F-3", market.Buy, "50000", "1.32000")))
	assert.Empty(t, l.OpenPositions())
	// 1000 - 500 = 500 net
	assert.True(t, l.Account().Balance.Equal(d("1000500")), l.Account().Balance.String())
	require.NoError(t, l.CheckInvariants())
}

func TestApplyCommission(t *testing.T) {
	l := newTestLedger()

	f := fill("F-1", market.Buy, "100000", "1.30000")
	f.Commission = d("2.60")
	require.NoError(t, l.Apply(f))

	assert.True(t, l.Account().Balance.Equal(d("999997.40")))
	require.NoError(t, l.CheckInvariants())
}

func TestApplyQuoteRate(t *testing.T) {
	// USD account trading USD/JPY: realized JPY converts at the fill rate
	l := newTestLedger()

	open := fill("F-1", market.Buy, "100000", "90.000")
	open.InstrumentID = "USD/JPY.SIM"
	open.PositionID = "P-s-USD/JPY.SIM"
	open.QuoteRate = d("0.0111")
	require.NoError(t, l.Apply(open))

	closeF := fill("F-2", market.Sell, "100000", "90.900")
	closeF.InstrumentID = "USD/JPY.SIM"
	closeF.PositionID = "P-s-USD/JPY.SIM"
	closeF.QuoteRate = d("0.0110011")
	require.NoError(t, l.Apply(closeF))

	// (90.9 - 90.0) * 100000 = 90000 JPY -> * 0.0110011 = 990.099 USD
	assert.True(t, l.Account().Balance.Equal(d("1000990.099")), l.Account().Balance.String())
	require.NoError(t, l.CheckInvariants())
}

func TestApplyRejectsBadFills(t *testing.T) {
	l := newTestLedger()

	noID := fill("", market.Buy, "100000", "1.3")
	assert.ErrorIs(t, l.Apply(noID), ErrInconsistent)

	zeroQty := fill("F-1", market.Buy, "0", "1.3")
	assert.ErrorIs(t, l.Apply(zeroQty), ErrInconsistent)
}

func TestPositionIDNettingVsHedging(t *testing.T) {
	net := New("USD", d("1000"), market.Netting)
	assert.Equal(t, "P-s-EUR/USD.SIM", net.PositionID("s", "EUR/USD.SIM"))
	assert.Equal(t, "P-s-EUR/USD.SIM", net.PositionID("s", "EUR/USD.SIM"))

	hedge := New("USD", d("1000"), market.Hedging)
	first := hedge.PositionID("s", "EUR/USD.SIM")
	second := hedge.PositionID("s", "EUR/USD.SIM")
	assert.Equal(t, "P-1", first)
	assert.Equal(t, "P-2", second)
}

func TestHedgingKeepsPositionsSeparate(t *testing.T) {
	l := New("USD", d("1000000"), market.Hedging)

	f1 := fill("F-1", market.Buy, "100000", "1.30000")
	f1.PositionID = l.PositionID("s", "EUR/USD.SIM")
	require.NoError(t, l.Apply(f1))

	f2 := fill("F-2", market.Sell, "100000", "1.31000")
	f2.PositionID = l.PositionID("s", "EUR/USD.SIM")
	require.NoError(t, l.Apply(f2))

	// opposing fills under hedging do not net out
	open := l.OpenPositions()
	require.Len(t, open, 2)
	assert.True(t, open[0].Quantity.Equal(d("100000")))
	assert.True(t, open[1].Quantity.Equal(d("-100000")))
	require.NoError(t, l.CheckInvariants())
}

func TestOrderTransitions(t *testing.T) {
	o := &Order{ID: "O-1", Quantity: d("100")}
	assert.Equal(t, Initialized, o.Status)

	require.NoError(t, o.Transition(Submitted))
	require.NoError(t, o.Transition(Accepted))
	require.NoError(t, o.Transition(PartiallyFilled))
	require.NoError(t, o.Transition(PartiallyFilled))
	require.NoError(t, o.Transition(Filled))
	assert.True(t, o.Status.Terminal())

	// terminal states admit nothing
	assert.ErrorIs(t, o.Transition(Canceled), ErrInconsistent)
	assert.Equal(t, Filled, o.Status)

	// skipping Submitted is illegal
	o2 := &Order{ID: "O-2"}
	assert.ErrorIs(t, o2.Transition(Accepted), ErrInconsistent)

	// rejected orders are terminal
	o3 := &Order{ID: "O-3"}
	require.NoError(t, o3.Transition(Submitted))
	require.NoError(t, o3.Transition(Rejected))
	assert.ErrorIs(t, o3.Transition(Accepted), ErrInconsistent)
}

func TestOrderLeavesQty(t *testing.T) {
	o := &Order{Quantity: d("100"), FilledQty: d("40")}
	assert.True(t, o.LeavesQty().Equal(d("60")))
}

func TestOrdersByStatus(t *testing.T) {
	l := newTestLedger()

	for _, id := range []string{"O-1", "O-2", "O-3"} {
		o := &Order{ID: id, Quantity: d("100")}
		require.NoError(t, o.Transition(Submitted))
		require.NoError(t, l.AddOrder(o))
	}
	o2, _ := l.Order("O-2")
	require.NoError(t, o2.Transition(Accepted))

	submitted := l.OrdersByStatus(Submitted)
	require.Len(t, submitted, 2)
	assert.Equal(t, "O-1", submitted[0].ID)
	assert.Equal(t, "O-3", submitted[1].ID)

	assert.ErrorIs(t, l.AddOrder(&Order{ID: "O-1"}), ErrInconsistent)
}

func TestSnapshotSortedAndDetached(t *testing.T) {
	l := newTestLedger()
	for _, id := range []string{"O-2", "O-1"} {
		o := &Order{ID: id, Quantity: d("100")}
		require.NoError(t, o.Transition(Submitted))
		require.NoError(t, l.AddOrder(o))
	}
	require.NoError(t, l.Apply(fill("F-1", market.Buy, "100000", "1.30000")))

	snap := l.Snapshot()
	require.Len(t, snap.Orders, 2)
	assert.Equal(t, "O-1", snap.Orders[0].ID)
	assert.Equal(t, "O-2", snap.Orders[1].ID)
	require.Len(t, snap.Positions, 1)
	require.Len(t, snap.Fills, 1)

	// mutating the snapshot leaves the ledger alone
	snap.Orders[0].Status = Canceled
	o1, _ := l.Order("O-1")
	assert.Equal(t, Submitted, o1.Status)
}

func TestCheckInvariantsDetectsDrift(t *testing.T) {
	l := newTestLedger()
	require.NoError(t, l.Apply(fill("F-1", market.Buy, "100000", "1.30000")))
	require.NoError(t, l.CheckInvariants())

	l.account.Balance = l.account.Balance.Add(d("1"))
	assert.ErrorIs(t, l.CheckInvariants(), ErrInconsistent)
}

func TestUnrealizedPnL(t *testing.T) {
	p := &Position{Quantity: d("100000"), AvgPrice: d("1.30000")}
	assert.True(t, p.UnrealizedPnL(d("1.31000")).Equal(d("1000")))

	short := &Position{Quantity: d("-100000"), AvgPrice: d("1.30000")}
	assert.True(t, short.UnrealizedPnL(d("1.31000")).Equal(d("-1000")))

	flat := &Position{}
	assert.True(t, flat.UnrealizedPnL(d("1.31000")).IsZero())

	assert.True(t, p.Notional(d("1.31")).Equal(d("131000")))
	assert.True(t, short.Notional(d("1.31")).Equal(d("131000")))
}
