package match_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/paperdesk/venue-engine/internal/model"
)

// TestEngine_RandomOrderFlow drives random order sequences through the
// engine and checks the invariants that must survive any flow: no order
// fills beyond its quantity, non-margin cash never goes negative, and
// terminal orders stay terminal.
func TestEngine_RandomOrderFlow(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e := newEnv(t)
		e.tick(t, "ACME", 100.00, false)

		users := []string{"alice", "bob"}
		var orderIDs []string

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			user := rapid.SampledFrom(users).Draw(rt, "user")
			side := model.SideBuy
			if rapid.Bool().Draw(rt, "sell") {
				side = model.SideSell
			}
			qty := decimal.NewFromInt(rapid.Int64Range(1, 300).Draw(rt, "qty"))

			switch rapid.IntRange(0, 3).Draw(rt, "action") {
			case 0: // market order
				o, err := e.engine.Submit(e.ctx, model.OrderRequestEvent{
					UserID: user, InstrumentID: "ACME",
					Side: side, Quantity: qty, OrderType: model.OrderMarket,
				})
				if err == nil {
					orderIDs = append(orderIDs, o.ID)
				}
			case 1: // limit order around the mid
				cents := rapid.Int64Range(9900, 10100).Draw(rt, "limit_cents")
				limit := decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
				o, err := e.engine.Submit(e.ctx, model.OrderRequestEvent{
					UserID: user, InstrumentID: "ACME",
					Side: side, Quantity: qty,
					OrderType: model.OrderLimit, LimitPrice: limit,
				})
				if err == nil {
					orderIDs = append(orderIDs, o.ID)
				}
			case 2: // cancel a random prior order
				if len(orderIDs) > 0 {
					id := rapid.SampledFrom(orderIDs).Draw(rt, "cancel_id")
					o, _ := e.engine.Order(id)
					_, _ = e.engine.Cancel(e.ctx, id, o.UserID)
				}
			case 3: // fresh tick replenishes the ladder and sweeps
				cents := rapid.Int64Range(9950, 10050).Draw(rt, "mid_cents")
				e.tick(t, "ACME", float64(cents)/100, false)
			}
		}

		// Fill conservation and terminal-state stability.
		for _, id := range orderIDs {
			o, err := e.engine.Order(id)
			if err != nil {
				rt.Fatalf("lost order %s: %v", id, err)
			}
			if o.FilledQty.GreaterThan(o.Quantity) {
				rt.Fatalf("order %s overfilled: %s of %s", id, o.FilledQty, o.Quantity)
			}
			if o.FilledQty.IsNegative() {
				rt.Fatalf("order %s negative fill: %s", id, o.FilledQty)
			}
			if o.Status == model.StatusFilled && !o.Remaining().IsZero() {
				rt.Fatalf("order %s FILLED with remainder %s", id, o.Remaining())
			}
		}

		// Solvency: neither account allows margin.
		for _, user := range users {
			acct, err := e.ledger.Account(user)
			if err != nil {
				rt.Fatalf("account %s: %v", user, err)
			}
			if acct.Cash.IsNegative() {
				rt.Fatalf("%s cash negative: %s", user, acct.Cash)
			}
		}
	})
}
