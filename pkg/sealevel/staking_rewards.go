package sealevel

import (
	"github.com/ryanavella/wide"
	"go.firedancer.io/stakeledger/pkg/safemath"
)

var rewardRateScale = wide.Uint128FromUint64(RewardRateScale)

// pendingRewards returns floor(elapsed * amount * rewardRate / 1e9). The
// product is formed in 128 bits and must fit in 64 bits after scaling.
func pendingRewards(elapsed uint64, amount uint64, rewardRate uint64) (uint64, error) {
	product, err := safemath.CheckedMulU128(wide.Uint128FromUint64(elapsed), wide.Uint128FromUint64(amount))
	if err != nil {
		return 0, StakingErrOverflow
	}

	product, err = safemath.CheckedMulU128(product, wide.Uint128FromUint64(rewardRate))
	if err != nil {
		return 0, StakingErrOverflow
	}

	pending := product.Div(rewardRateScale)
	if !pending.IsUint64() {
		return 0, StakingErrOverflow
	}
	return pending.Uint64(), nil
}

// settleRewards accrues rewards on position up to now. It returns the
// updated position, with LastClaimTime advanced to now and RewardsClaimed
// increased by the payout, together with the payout amount. The caller is
// responsible for moving the payout out of the vault.
func settleRewards(position UserStake, pool StakingPool, now int64) (UserStake, uint64, error) {
	if now < position.LastClaimTime {
		return position, 0, StakingErrTimeWentBackwards
	}

	elapsed, err := safemath.CheckedSubI64(now, position.LastClaimTime)
	if err != nil {
		return position, 0, StakingErrOverflow
	}

	payout, err := pendingRewards(uint64(elapsed), position.Amount, pool.RewardRate)
	if err != nil {
		return position, 0, err
	}

	claimed, err := safemath.CheckedAddU64(position.RewardsClaimed, payout)
	if err != nil {
		return position, 0, StakingErrOverflow
	}

	position.RewardsClaimed = claimed
	position.LastClaimTime = now
	return position, payout, nil
}
