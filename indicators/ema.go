// Package indicators holds streaming indicators updated bar by bar.
package indicators

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// EMA is a streaming exponential moving average. It warms up on a
// simple average of the first period values, then applies the standard
// smoothing multiplier.
type EMA struct {
	period     int
	multiplier float64
	value      float64
	count      int
	warmupSum  float64
}

func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string {
	return fmt.Sprintf("EMA(%d)", e.period)
}

func (e *EMA) Reset() {
	e.value = 0
	e.count = 0
	e.warmupSum = 0
}

func (e *EMA) Update(price decimal.Decimal) {
	p := price.InexactFloat64()
	e.count++

	if e.count <= e.period {
		e.warmupSum += p
		if e.count == e.period {
			e.value = e.warmupSum / float64(e.period)
		}
		return
	}
	e.value = (p-e.value)*e.multiplier + e.value
}

func (e *EMA) Ready() bool {
	return e.count >= e.period
}

func (e *EMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.value
}

// SMA is a streaming simple moving average over the last period values.
type SMA struct {
	period int
	window []float64
	sum    float64
}

func NewSMA(period int) *SMA {
	return &SMA{period: period, window: make([]float64, 0, period)}
}

func (m *SMA) Name() string {
	return fmt.Sprintf("SMA(%d)", m.period)
}

func (m *SMA) Reset() {
	m.window = m.window[:0]
	m.sum = 0
}

func (m *SMA) Update(price decimal.Decimal) {
	p := price.InexactFloat64()
	m.window = append(m.window, p)
	m.sum += p
	if len(m.window) > m.period {
		m.sum -= m.window[0]
		m.window = m.window[1:]
	}
}

func (m *SMA) Ready() bool {
	return len(m.window) >= m.period
}

func (m *SMA) Value() float64 {
	if !m.Ready() {
		return 0
	}
	return m.sum / float64(len(m.window))
}
