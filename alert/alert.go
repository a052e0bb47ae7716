package alert

import (
	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/db"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/metrics"
)

const (
	KindTransactionStuck = "transaction_stuck"
	KindRelayReverted    = "relay_reverted"
	KindFatalExit        = "fatal_exit"
)

// Sink receives conditions an operator has to look at.
type Sink interface {
	TransactionStuck(tx *db.InFlightTransaction)
	RelayReverted(msg *db.Message, tx *db.InFlightTransaction)
	FatalExit(task string, err error)
}

// LogSink writes alerts as error level log lines and counts them.
type LogSink struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewLogSink(logger *zap.Logger, m *metrics.Metrics) *LogSink {
	return &LogSink{logger: logger.Named("alert"), metrics: m}
}

func (s *LogSink) TransactionStuck(tx *db.InFlightTransaction) {
	s.metrics.IncAlert(KindTransactionStuck)
	s.logger.Error("transaction stuck",
		zap.String("kind", KindTransactionStuck),
		zap.Uint64("chain", tx.ChainID),
		zap.Stringer("account", tx.Account),
		zap.Uint64("nonce", tx.Nonce),
		zap.Stringer("txHash", tx.TxHash),
		zap.Int("boosts", tx.BoostCount),
		zap.String("meta", tx.Meta))
}

func (s *LogSink) RelayReverted(msg *db.Message, tx *db.InFlightTransaction) {
	s.metrics.IncAlert(KindRelayReverted)
	s.logger.Error("relay transaction reverted",
		zap.String("kind", KindRelayReverted),
		zap.Stringer("messageHash", msg.MessageHash),
		zap.Uint64("sourceChain", msg.SourceChainID),
		zap.Uint64("destinationChain", msg.DestChainID),
		zap.Stringer("txHash", tx.ConfirmedTxHash),
		zap.Uint64("nonce", tx.Nonce))
}

func (s *LogSink) FatalExit(task string, err error) {
	s.metrics.IncAlert(KindFatalExit)
	s.logger.Error("task exited", zap.String("kind", KindFatalExit), zap.String("task", task), zap.Error(err))
}
