// Package sim matches orders against bar data at a simulated venue.
// Matching is single-threaded and driven bar by bar; every random
// decision flows through the run's FillModel so identical runs produce
// identical fills.
package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/backsim/ledger"
	"github.com/rustyeddy/backsim/market"
)

// ErrMarginExceeded marks an order whose initial margin requirement
// exceeds the account's free margin at submission. The order is
// rejected; the run continues.
var ErrMarginExceeded = errors.New("order exceeds available margin")

// OrderCommand is a strategy's instruction to the venue.
type OrderCommand struct {
	StrategyID   string
	InstrumentID string
	Side         market.Side
	Type         market.OrderType
	Quantity     decimal.Decimal
	Price        decimal.Decimal // required for limit and stop orders
	ExpireTime   time.Time       // optional, conditional orders only
}

type quote struct {
	bid, ask       decimal.Decimal
	hasBid, hasAsk bool
	time           time.Time
}

func (q *quote) mid() decimal.Decimal {
	switch {
	case q.hasBid && q.hasAsk:
		return q.bid.Add(q.ask).Div(decimal.NewFromInt(2))
	case q.hasBid:
		return q.bid
	default:
		return q.ask
	}
}

// Venue simulates order acceptance, matching and expiry for one run.
// It is the only component that mutates the Ledger.
type Venue struct {
	name    string
	led     *ledger.Ledger
	model   *FillModel
	insts   map[string]market.Instrument
	quotes  map[string]*quote
	working []string // conditional orders eligible for matching
	pending []string // accepted this step, eligible from the next bar
	handler EventHandler
	log     *zap.Logger
	now     time.Time

	orderSeq   int
	fillSeq    int
	posByOrder map[string]string // hedging: entry order -> position
}

func NewVenue(name string, instruments []market.Instrument, led *ledger.Ledger, model *FillModel, log *zap.Logger) *Venue {
	if log == nil {
		log = zap.NewNop()
	}
	if model == nil {
		model = PerfectFillModel()
	}
	insts := make(map[string]market.Instrument, len(instruments))
	for _, inst := range instruments {
		insts[inst.ID()] = inst
	}
	return &Venue{
		name:       name,
		led:        led,
		model:      model,
		insts:      insts,
		quotes:     make(map[string]*quote),
		posByOrder: make(map[string]string),
		log:        log,
	}
}

// SetHandler installs the order-event sink. Events are delivered
// synchronously, after the ledger mutation they describe completes.
func (v *Venue) SetHandler(h EventHandler) { v.handler = h }

// Quote returns the last seen bid/ask for an instrument. ok stays false
// until both sides of the book have been seen, so callers never observe
// a zero price standing in for a missing side.
func (v *Venue) Quote(instrumentID string) (bid, ask decimal.Decimal, ok bool) {
	q, found := v.quotes[instrumentID]
	if !found || !q.hasBid || !q.hasAsk {
		return decimal.Zero, decimal.Zero, false
	}
	return q.bid, q.ask, true
}

// Submit validates and accepts (or rejects) an order. Market orders
// match immediately against the last quote; conditional orders join the
// working book from the next bar, so a strategy reacting to bar t is
// first evaluated on bar t+1. Rejections are reported as order events,
// not errors; the returned error is reserved for state corruption.
func (v *Venue) Submit(cmd OrderCommand) (string, error) {
	v.orderSeq++
	o := &ledger.Order{
		ID:           fmt.Sprintf("O-%d", v.orderSeq),
		StrategyID:   cmd.StrategyID,
		InstrumentID: cmd.InstrumentID,
		Side:         cmd.Side,
		Type:         cmd.Type,
		Quantity:     cmd.Quantity,
		Price:        cmd.Price,
		SubmitTime:   v.now,
		ExpireTime:   cmd.ExpireTime,
	}
	if err := o.Transition(ledger.Submitted); err != nil {
		return "", err
	}
	if err := v.led.AddOrder(o); err != nil {
		return "", err
	}
	v.emit(OrderSubmitted, o, "", nil)

	inst, ok := v.insts[cmd.InstrumentID]
	if !ok {
		return o.ID, v.reject(o, fmt.Sprintf("unknown instrument %s", cmd.InstrumentID))
	}
	if cmd.Side != market.Buy && cmd.Side != market.Sell {
		return o.ID, v.reject(o, "order side not set")
	}
	if cmd.Quantity.Sign() <= 0 || cmd.Quantity.LessThan(inst.MinTradeSize) {
		return o.ID, v.reject(o, fmt.Sprintf("quantity %s below minimum %s", cmd.Quantity, inst.MinTradeSize))
	}
	if cmd.Type != market.MarketOrder && cmd.Price.Sign() <= 0 {
		return o.ID, v.reject(o, fmt.Sprintf("%s order requires a positive price", cmd.Type))
	}

	q := v.quotes[cmd.InstrumentID]
	if cmd.Type == market.MarketOrder && (q == nil || (!q.hasBid && !q.hasAsk)) {
		return o.ID, v.reject(o, "no market data for instrument")
	}

	// margin gate: initial margin against current free margin
	ref := cmd.Price
	if cmd.Type == market.MarketOrder {
		ref = q.mid()
		if cmd.Side == market.Buy && q.hasAsk {
			ref = q.ask
		} else if cmd.Side == market.Sell && q.hasBid {
			ref = q.bid
		}
	}
	required := cmd.Quantity.Mul(ref).Mul(inst.MarginRate).Mul(v.quoteToAccountRate(inst, ref))
	if required.GreaterThan(v.led.Account().FreeMargin()) {
		return o.ID, v.reject(o, ErrMarginExceeded.Error())
	}

	if err := o.Transition(ledger.Accepted); err != nil {
		return o.ID, err
	}
	v.emit(OrderAccepted, o, "", nil)

	if cmd.Type == market.MarketOrder {
		return o.ID, v.executeMarket(o, inst, q)
	}
	v.pending = append(v.pending, o.ID)
	return o.ID, nil
}

// Modify changes the open quantity and/or price of a working
// conditional order. A zero quantity or price leaves that field alone.
func (v *Venue) Modify(orderID string, quantity, price decimal.Decimal) error {
	o, ok := v.led.Order(orderID)
	if !ok {
		return fmt.Errorf("modify: order %s not found", orderID)
	}
	if o.Status != ledger.Accepted && o.Status != ledger.PartiallyFilled {
		return fmt.Errorf("modify: order %s is %s", orderID, o.Status)
	}
	if o.Type == market.MarketOrder {
		return fmt.Errorf("modify: market order %s cannot be amended", orderID)
	}
	if quantity.Sign() > 0 {
		if quantity.LessThanOrEqual(o.FilledQty) {
			return fmt.Errorf("modify: order %s quantity %s not above filled %s", orderID, quantity, o.FilledQty)
		}
		o.Quantity = quantity
	}
	if price.Sign() > 0 {
		o.Price = price
	}
	v.emit(OrderModified, o, "", nil)
	return nil
}

// Cancel withdraws a working conditional order.
func (v *Venue) Cancel(orderID, reason string) error {
	o, ok := v.led.Order(orderID)
	if !ok {
		return fmt.Errorf("cancel: order %s not found", orderID)
	}
	if err := o.Transition(ledger.Canceled); err != nil {
		return err
	}
	if reason == "" {
		reason = "canceled by strategy"
	}
	o.Reason = reason
	v.drop(orderID)
	v.emit(OrderCanceled, o, reason, nil)
	return nil
}

// ProcessBar advances the venue to a new bar: refresh the quote, expire
// due orders, then consult the working book. Buy orders match on ask or
// mid side bars, sell orders on bid or mid, so conditional fills use the
// trade-through side of the book.
func (v *Venue) ProcessBar(bt market.BarType, bar market.Bar) error {
	v.now = bar.Time
	inst, ok := v.insts[bt.InstrumentID]
	if !ok {
		return fmt.Errorf("bar for unregistered instrument %s", bt.InstrumentID)
	}

	q := v.quotes[bt.InstrumentID]
	if q == nil {
		q = &quote{}
		v.quotes[bt.InstrumentID] = q
	}
	switch bt.Spec.PriceSide {
	case market.BidSide:
		q.bid, q.hasBid = bar.Close, true
	case market.AskSide:
		q.ask, q.hasAsk = bar.Close, true
	case market.MidSide:
		q.bid, q.ask = bar.Close, bar.Close
		q.hasBid, q.hasAsk = true, true
	}
	q.time = bar.Time

	if err := v.expireDue(); err != nil {
		return err
	}

	for _, id := range append([]string(nil), v.working...) {
		o, ok := v.led.Order(id)
		if !ok || o.Status.Terminal() {
			continue
		}
		if o.InstrumentID != bt.InstrumentID {
			continue
		}
		if !sideMatches(o.Side, bt.Spec.PriceSide) {
			continue
		}
		// never match a bar at or before the order's submission time;
		// a sibling series can carry another bar at the same timestamp
		if !bar.Time.After(o.SubmitTime) {
			continue
		}
		price, matched := v.tryMatch(o, inst, bar)
		if !matched {
			continue
		}
		if err := v.fill(o, inst, price); err != nil {
			return err
		}
	}
	v.prune()

	return v.revalue()
}

// EndStep activates orders submitted during the current dispatch step.
// The engine calls it after every strategy has reacted to the event, so
// new conditional orders cannot be matched against the bar that
// triggered them.
func (v *Venue) EndStep() {
	v.working = append(v.working, v.pending...)
	v.pending = v.pending[:0]
}

// CancelAllWorking withdraws every resting order, used at run teardown.
func (v *Venue) CancelAllWorking(reason string) {
	v.EndStep()
	for _, id := range append([]string(nil), v.working...) {
		o, ok := v.led.Order(id)
		if !ok || o.Status.Terminal() {
			continue
		}
		_ = v.Cancel(id, reason)
	}
	v.prune()
}

func sideMatches(side market.Side, ps market.PriceSide) bool {
	switch ps {
	case market.MidSide:
		return true
	case market.AskSide:
		return side == market.Buy
	case market.BidSide:
		return side == market.Sell
	}
	return false
}

// tryMatch decides whether a conditional order fills against this bar.
// A bar range strictly crossing the level always matches; an exact
// touch consults the fill model. Stop fills take one increment of
// adverse slippage when the slippage draw hits; limit orders always
// fill at their level.
func (v *Venue) tryMatch(o *ledger.Order, inst market.Instrument, bar market.Bar) (decimal.Decimal, bool) {
	switch o.Type {
	case market.LimitOrder:
		if o.Side == market.Buy {
			if bar.Low.LessThan(o.Price) {
				return o.Price, true
			}
			if bar.Low.Equal(o.Price) && v.model.LimitFilled() {
				return o.Price, true
			}
		} else {
			if bar.High.GreaterThan(o.Price) {
				return o.Price, true
			}
			if bar.High.Equal(o.Price) && v.model.LimitFilled() {
				return o.Price, true
			}
		}

	case market.StopOrder:
		triggered := false
		if o.Side == market.Buy {
			if bar.High.GreaterThan(o.Price) {
				triggered = true
			} else if bar.High.Equal(o.Price) && v.model.StopFilled() {
				triggered = true
			}
		} else {
			if bar.Low.LessThan(o.Price) {
				triggered = true
			} else if bar.Low.Equal(o.Price) && v.model.StopFilled() {
				triggered = true
			}
		}
		if triggered {
			return v.slip(o.Side, o.Price, inst), true
		}
	}
	return decimal.Zero, false
}

// slip applies one price increment of adverse slippage when drawn.
func (v *Venue) slip(side market.Side, price decimal.Decimal, inst market.Instrument) decimal.Decimal {
	if !v.model.Slipped() {
		return price
	}
	if side == market.Buy {
		return price.Add(inst.PriceIncrement)
	}
	return price.Sub(inst.PriceIncrement)
}

// executeMarket fills a market order against the last quote: ask for
// buys, bid for sells, plus the slippage draw. There is no probability
// gate for market orders.
func (v *Venue) executeMarket(o *ledger.Order, inst market.Instrument, q *quote) error {
	var px decimal.Decimal
	if o.Side == market.Buy {
		px = q.ask
		if !q.hasAsk {
			px = q.bid
		}
	} else {
		px = q.bid
		if !q.hasBid {
			px = q.ask
		}
	}
	return v.fill(o, inst, v.slip(o.Side, px, inst))
}

// fill books one all-or-nothing fill of the order's remaining quantity:
// transition the order, apply the fill to the ledger, revalue, then
// notify. The ledger update is complete before any callback observes it.
// Bars carry no depth, so matching never caps the quantity and the
// partial-fill branch below stays idle until a liquidity model exists.
func (v *Venue) fill(o *ledger.Order, inst market.Instrument, price decimal.Decimal) error {
	qty := o.LeavesQty()
	if qty.Sign() <= 0 {
		return fmt.Errorf("%w: fill for order %s with no open quantity", ledger.ErrInconsistent, o.ID)
	}

	posID, ok := v.posByOrder[o.ID]
	if !ok {
		posID = v.led.PositionID(o.StrategyID, o.InstrumentID)
		v.posByOrder[o.ID] = posID
	}

	rate := v.quoteToAccountRate(inst, price)
	commission := qty.Mul(price).Mul(inst.CommissionRate).Mul(rate)

	v.fillSeq++
	f := ledger.FillEvent{
		ID:           fmt.Sprintf("F-%d", v.fillSeq),
		OrderID:      o.ID,
		PositionID:   posID,
		StrategyID:   o.StrategyID,
		InstrumentID: o.InstrumentID,
		Side:         o.Side,
		Quantity:     qty,
		Price:        price,
		Commission:   commission,
		QuoteRate:    rate,
		Time:         v.now,
	}

	// weighted average across partial fills
	prevNotional := o.AvgFillPrice.Mul(o.FilledQty)
	o.FilledQty = o.FilledQty.Add(qty)
	o.AvgFillPrice = prevNotional.Add(price.Mul(qty)).Div(o.FilledQty)

	kind := OrderFilled
	next := ledger.Filled
	if o.FilledQty.LessThan(o.Quantity) {
		kind = OrderPartiallyFilled
		next = ledger.PartiallyFilled
	}
	if err := o.Transition(next); err != nil {
		return err
	}

	if err := v.led.Apply(f); err != nil {
		if errors.Is(err, ledger.ErrDuplicateFill) {
			v.log.Warn("duplicate fill ignored", zap.String("fill", f.ID))
			return nil
		}
		return err
	}
	if err := v.revalue(); err != nil {
		return err
	}
	v.emit(kind, o, "", &f)
	return nil
}

// expireDue retires working orders whose expire time has passed.
func (v *Venue) expireDue() error {
	for _, id := range append([]string(nil), v.working...) {
		o, ok := v.led.Order(id)
		if !ok || o.Status.Terminal() || o.ExpireTime.IsZero() {
			continue
		}
		if v.now.Before(o.ExpireTime) {
			continue
		}
		if err := o.Transition(ledger.Expired); err != nil {
			return err
		}
		o.Reason = "expired"
		v.emit(OrderExpired, o, o.Reason, nil)
	}
	v.prune()
	return nil
}

// revalue recomputes equity and margin used from open positions, marked
// at the last quote (bid for longs, ask for shorts, mid for margin).
func (v *Venue) revalue() error {
	acct := v.led.Account()
	equity := acct.Balance
	margin := decimal.Zero

	for _, p := range v.led.OpenPositions() {
		inst, ok := v.insts[p.InstrumentID]
		if !ok {
			return fmt.Errorf("%w: position %s references unknown instrument %s",
				ledger.ErrInconsistent, p.ID, p.InstrumentID)
		}
		q := v.quotes[p.InstrumentID]
		if q == nil || (!q.hasBid && !q.hasAsk) {
			continue // no mark yet; carried at entry
		}

		mark := q.bid
		if p.Quantity.Sign() < 0 {
			mark = q.ask
		}
		if (p.Quantity.Sign() > 0 && !q.hasBid) || (p.Quantity.Sign() < 0 && !q.hasAsk) {
			mark = q.mid()
		}

		rate := v.quoteToAccountRate(inst, mark)
		equity = equity.Add(p.UnrealizedPnL(mark).Mul(rate))
		margin = margin.Add(p.Notional(q.mid()).Mul(inst.MarginRate).Mul(rate))
	}

	v.led.SetMarks(equity, margin)
	return nil
}

// quoteToAccountRate converts the instrument's quote currency into the
// account currency at the given price. Cross rates outside the traded
// pair are not modeled; unrelated currencies convert at 1 with a log.
func (v *Venue) quoteToAccountRate(inst market.Instrument, price decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	acct := v.led.Account().Currency
	switch {
	case inst.QuoteCurrency == acct:
		return one
	case inst.BaseCurrency == acct && price.Sign() > 0:
		return one.Div(price)
	default:
		v.log.Debug("no conversion path, assuming parity",
			zap.String("quote", inst.QuoteCurrency), zap.String("account", acct))
		return one
	}
}

func (v *Venue) reject(o *ledger.Order, reason string) error {
	if err := o.Transition(ledger.Rejected); err != nil {
		return err
	}
	o.Reason = reason
	v.log.Debug("order rejected",
		zap.String("order", o.ID), zap.String("reason", reason))
	v.emit(OrderRejected, o, reason, nil)
	return nil
}

func (v *Venue) drop(orderID string) {
	for i, id := range v.working {
		if id == orderID {
			v.working = append(v.working[:i], v.working[i+1:]...)
			return
		}
	}
	for i, id := range v.pending {
		if id == orderID {
			v.pending = append(v.pending[:i], v.pending[i+1:]...)
			return
		}
	}
}

func (v *Venue) prune() {
	keep := v.working[:0]
	for _, id := range v.working {
		if o, ok := v.led.Order(id); ok && !o.Status.Terminal() {
			keep = append(keep, id)
		}
	}
	v.working = keep
}

func (v *Venue) emit(kind OrderEventKind, o *ledger.Order, reason string, f *ledger.FillEvent) {
	if v.handler == nil {
		return
	}
	v.handler(OrderEvent{
		Kind:   kind,
		Order:  *o,
		Time:   v.now,
		Reason: reason,
		Fill:   f,
	})
}
