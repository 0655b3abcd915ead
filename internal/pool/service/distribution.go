package service

import (
	"fmt"
	"math/big"

	"receiv3/internal/asset"
	"receiv3/internal/pool/models"
	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
)

// waterfall is the split of one repayment.
type waterfall struct {
	Fee         domain.Amount
	Net         domain.Amount
	Distributed domain.Amount
	Residual    domain.Amount
	Returns     []models.InvestorReturn
}

// Swept is what the platform wallet receives: the fee plus the rounding
// residual.
func (w waterfall) Swept() domain.Amount { return w.Fee + w.Residual }

// splitRepayment computes fee = floor(total*feeBps/10000) and gives each
// investment record floor(net*amount/funded). Every share rounds down, so
// the payouts never exceed net and the residual is below the record count.
func splitRepayment(total domain.Amount, feeBps domain.BasisPoints, funded domain.Amount, log []models.Investment) (waterfall, error) {
	var sum domain.Amount
	for _, inv := range log {
		sum += inv.Amount
	}
	if funded <= 0 || sum != funded {
		return waterfall{}, dErrors.Wrap(ErrLedgerMismatch, dErrors.CodeInternal,
			fmt.Sprintf("log sums to %s, funded is %s", sum, funded))
	}

	w := waterfall{Fee: mulDiv(total, domain.Amount(feeBps), domain.BPSDenominator)}
	w.Net = total - w.Fee
	w.Returns = make([]models.InvestorReturn, len(log))
	for i, inv := range log {
		share := mulDiv(w.Net, inv.Amount, funded)
		w.Returns[i] = models.InvestorReturn{Investor: inv.Investor, Invested: inv.Amount, Payout: share}
		w.Distributed += share
	}
	w.Residual = w.Net - w.Distributed
	return w, nil
}

// payouts turns a waterfall into batch transfer legs, one per investment
// record plus the platform sweep. Zero legs are dropped.
func (w waterfall) payouts(wallet domain.Address) []asset.Payout {
	legs := make([]asset.Payout, 0, len(w.Returns)+1)
	for _, r := range w.Returns {
		if r.Payout > 0 {
			legs = append(legs, asset.Payout{To: r.Investor, Amount: r.Payout})
		}
	}
	if swept := w.Swept(); swept > 0 {
		legs = append(legs, asset.Payout{To: wallet, Amount: swept})
	}
	return legs
}

// expectedReturn is the principal plus simple interest at rateBps.
func expectedReturn(amount domain.Amount, rateBps domain.BasisPoints) domain.Amount {
	return amount + mulDiv(amount, domain.Amount(rateBps), domain.BPSDenominator)
}

// mulDiv returns floor(a*b/c) without intermediate overflow.
func mulDiv(a, b, c domain.Amount) domain.Amount {
	var n big.Int
	n.Mul(big.NewInt(int64(a)), big.NewInt(int64(b)))
	n.Quo(&n, big.NewInt(int64(c)))
	return domain.Amount(n.Int64())
}
