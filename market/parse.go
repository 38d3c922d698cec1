package market

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseBarSpec reads the "1-MINUTE-BID" spelling used in config files.
func ParseBarSpec(s string) (BarSpec, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(s)), "-")
	if len(parts) != 3 {
		return BarSpec{}, fmt.Errorf("bar spec %q: want STEP-UNIT-SIDE", s)
	}

	step, err := strconv.Atoi(parts[0])
	if err != nil || step <= 0 {
		return BarSpec{}, fmt.Errorf("bar spec %q: bad step %q", s, parts[0])
	}

	var agg Aggregation
	switch parts[1] {
	case "SECOND":
		agg = Second
	case "MINUTE":
		agg = Minute
	case "HOUR":
		agg = Hour
	case "DAY":
		agg = Day
	default:
		return BarSpec{}, fmt.Errorf("bar spec %q: unknown aggregation %q", s, parts[1])
	}

	var side PriceSide
	switch parts[2] {
	case "BID":
		side = BidSide
	case "ASK":
		side = AskSide
	case "MID":
		side = MidSide
	default:
		return BarSpec{}, fmt.Errorf("bar spec %q: unknown price side %q", s, parts[2])
	}

	return BarSpec{Step: step, Aggregation: agg, PriceSide: side}, nil
}
