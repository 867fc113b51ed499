package funds

import "arbitrage-bot-go/internal/models"

// Settlement is the balance movement caused by a filled order on one
// exchange.
type Settlement struct {
	Debit          float64
	CreditCurrency string
	Credit         float64
}

// SettlementFor derives the movement of a closed order. A sell spends base
// and receives quote; a buy spends quote and receives base. Fees are charged
// to whichever side is denominated in the fee currency.
func SettlementFor(side models.Side, pair models.PairConfig, report *models.OrderReport) Settlement {
	qty := report.FilledQuantity()
	notional := qty * report.AveragePrice()
	fee, feeCurrency := report.TotalFee()

	if side == models.Sell {
		s := Settlement{Debit: qty, CreditCurrency: pair.Quote, Credit: notional}
		switch feeCurrency {
		case pair.Base:
			s.Debit += fee
		case pair.Quote, "":
			s.Credit -= fee
		}
		return s
	}
	s := Settlement{Debit: notional, CreditCurrency: pair.Base, Credit: qty}
	switch feeCurrency {
	case pair.Base:
		s.Credit -= fee
	case pair.Quote, "":
		s.Debit += fee
	}
	return s
}
