// Package cu meters the compute units a transaction spends.
package cu

import (
	"errors"

	"go.firedancer.io/stakeledger/pkg/safemath"
	"k8s.io/klog/v2"
)

var ErrComputeExceeded = errors.New("Compute exceeded")

const DefaultComputeUnitLimit = 200000

type ComputeMeter struct {
	limit     uint64
	remaining uint64
	exceeded  bool
}

func NewComputeMeter(limit uint64) ComputeMeter {
	return ComputeMeter{limit: limit, remaining: limit}
}

func NewComputeMeterDefault() ComputeMeter {
	return NewComputeMeter(DefaultComputeUnitLimit)
}

// Consume charges cost units. Once the budget is overdrawn the meter stays
// at zero and every later charge fails too.
func (cm *ComputeMeter) Consume(cost uint64) error {
	if cm.exceeded || cost > cm.remaining {
		if !cm.exceeded {
			klog.V(2).Infof("compute budget of %d exhausted by charge of %d", cm.limit, cost)
		}
		cm.exceeded = true
		cm.remaining = 0
		return ErrComputeExceeded
	}

	cm.remaining = safemath.SaturatingSubU64(cm.remaining, cost)
	return nil
}

func (cm *ComputeMeter) Used() uint64 {
	return cm.limit - cm.remaining
}

func (cm *ComputeMeter) Remaining() uint64 {
	return cm.remaining
}

func (cm *ComputeMeter) Exceeded() bool {
	return cm.exceeded
}
