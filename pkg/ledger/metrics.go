package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.firedancer.io/stakeledger/pkg/accounts"
	"go.firedancer.io/stakeledger/pkg/sealevel"
)

const metricsNamespace = "stakeledger"

type metrics struct {
	transactions *prometheus.CounterVec
	instructions *prometheus.CounterVec
	stakingOps   *prometheus.CounterVec
	computeUnits prometheus.Histogram
	totalStaked  *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transactions_total",
			Help:      "Transactions processed, by result.",
		}, []string{"result"}),
		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "instructions_total",
			Help:      "Top-level instructions executed, by program and result.",
		}, []string{"program", "result"}),
		stakingOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "staking_operations_total",
			Help:      "Staking program operations, by operation and result.",
		}, []string{"operation", "result"}),
		computeUnits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "transaction_compute_units",
			Help:      "Compute units consumed per transaction.",
			Buckets:   prometheus.ExponentialBuckets(500, 2, 10),
		}),
		totalStaked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pool_total_staked",
			Help:      "Tokens currently staked in each pool.",
		}, []string{"pool"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.transactions, m.instructions, m.stakingOps, m.computeUnits, m.totalStaked} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering ledger metrics: %w", err)
		}
	}
	return m, nil
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func programLabel(programId solana.PublicKey) string {
	switch programId {
	case sealevel.SystemProgramAddr:
		return "system"
	case sealevel.TokenProgramAddr:
		return "token"
	case sealevel.AssociatedTokenProgramAddr:
		return "associated_token"
	case sealevel.StakingProgramAddr:
		return "staking"
	}
	return "unknown"
}

func (m *metrics) observeInstruction(instr sealevel.Instruction, err error) {
	m.instructions.WithLabelValues(programLabel(instr.ProgramId), resultLabel(err)).Inc()
	if instr.ProgramId == sealevel.StakingProgramAddr {
		m.stakingOps.WithLabelValues(sealevel.StakingInstructionName(instr.Data), resultLabel(err)).Inc()
	}
}

func (m *metrics) observeTransaction(result *TransactionResult, err error) {
	m.transactions.WithLabelValues(resultLabel(err)).Inc()
	if result != nil {
		m.computeUnits.Observe(float64(result.ComputeUnitsConsumed))
	}
}

func (m *metrics) observeCommit(committed []*accounts.Account) {
	for _, acct := range committed {
		if acct.Owner != sealevel.StakingProgramAddr || len(acct.Data) != sealevel.StakingPoolSize {
			continue
		}
		pool, err := sealevel.UnmarshalStakingPool(acct.Data)
		if err != nil {
			continue
		}
		m.totalStaked.WithLabelValues(acct.Key.String()).Set(float64(pool.TotalStaked))
	}
}
