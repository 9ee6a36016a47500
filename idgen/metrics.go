package idgen

// Metrics 指标常量定义
const (
	// MetricSnowflakeGenerated 雪花算法 ID 生成总数 (Counter)
	MetricSnowflakeGenerated = "idgen_snowflake_generated_total"

	// MetricClockRegression 时钟回拨次数 (Counter)
	MetricClockRegression = "idgen_clock_regression_total"

	// MetricSequenceExhausted 同一毫秒内序列号用尽、等待下一毫秒的次数 (Counter)
	MetricSequenceExhausted = "idgen_sequence_exhausted_total"

	// MetricLeaseRenewals 租约续约次数，按 outcome 区分 success/retry/error (Counter)
	MetricLeaseRenewals = "idgen_lease_renewals_total"

	// MetricWorkerNode 当前持有的节点 ID，未持有时为 -1 (Gauge)
	MetricWorkerNode = "idgen_worker_node_id"
)

const (
	labelNodeID       = "node_id"
	labelDatacenterID = "datacenter_id"

	outcomeRetry = "retry"
)
