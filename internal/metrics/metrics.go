package metrics

import "expvar"

// 交易生命周期计数
var (
	TxSubmitted = expvar.NewInt("tx_submitted")
	TxMempooled = expvar.NewInt("tx_mempooled")
	TxConfirmed = expvar.NewInt("tx_confirmed")
	TxFailed    = expvar.NewInt("tx_failed")
	TxErrored   = expvar.NewInt("tx_errored")
)

// 推送/快照对账计数
var (
	PushQueued       = expvar.NewInt("push_queued")
	PushApplied      = expvar.NewInt("push_applied")
	SnapshotsApplied = expvar.NewInt("snapshots_applied")
)

// 操作面计数
var (
	OrdersSent     = expvar.NewInt("orders_sent")
	OrdersCanceled = expvar.NewInt("orders_canceled")
	OrdersModified = expvar.NewInt("orders_modified")
	BatchesPlanned = expvar.NewInt("batches_planned")
	GateRejections = expvar.NewInt("gate_rejections")
)
