package agreement

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"

	"saleescrow/native/bank"
)

// Audit recomputes the custody invariant: for every asset the vault balance
// must equal the sum of deposits still held for funded or disputed
// agreements. The report is returned even when it is unbalanced.
func (r *Registry) Audit(ctx context.Context) (*CustodyReport, error) {
	report := &CustodyReport{Vault: r.vault, Balanced: true}
	err := r.view(ctx, func(st State) error {
		expected := map[[20]byte]*big.Int{bank.NativeAsset: big.NewInt(0)}
		tokens, err := st.TokenList()
		if err != nil {
			return err
		}
		for _, token := range tokens {
			expected[token] = big.NewInt(0)
		}

		count, err := st.AgreementCount()
		if err != nil {
			return err
		}
		for id := uint64(0); id < count; id++ {
			a, ok, err := st.AgreementGet(id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: agreement %d missing below count %d", ErrCustodyImbalance, id, count)
			}
			if !a.Status.Holding() {
				continue
			}
			sum, known := expected[a.Asset]
			if !known {
				sum = big.NewInt(0)
				expected[a.Asset] = sum
			}
			sum.Add(sum, cloneAmount(a.Deposited))
		}

		assets := make([][20]byte, 0, len(expected))
		for asset := range expected {
			assets = append(assets, asset)
		}
		sort.Slice(assets, func(i, j int) bool { return bytes.Compare(assets[i][:], assets[j][:]) < 0 })
		for _, asset := range assets {
			held, err := st.BalanceGet(asset, r.vault)
			if err != nil {
				return err
			}
			line := AssetCustody{Asset: asset, Expected: expected[asset], Held: cloneAmount(held)}
			if line.Expected.Cmp(line.Held) != 0 {
				report.Balanced = false
			}
			report.Assets = append(report.Assets, line)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, line := range report.Assets {
		r.metrics.SetCustody(line.Asset, line.Held)
	}
	if !report.Balanced {
		return report, ErrCustodyImbalance
	}
	return report, nil
}
