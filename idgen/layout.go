package idgen

import "time"

// Epoch 时间戳起点（2023-03-31T05:32:00Z，毫秒）
const Epoch int64 = 1680240720000

// 位结构：1bit 符号位 + 41bit 时间戳 + 5bit 节点 + 5bit 数据中心 + 12bit 序列号
const (
	TimestampBits  = 41
	NodeBits       = 5
	DatacenterBits = 5
	SequenceBits   = 12

	MaxNodeID       = 1<<NodeBits - 1
	MaxDatacenterID = 1<<DatacenterBits - 1
	MaxSequence     = 1<<SequenceBits - 1
	MaxTimestamp    = 1<<TimestampBits - 1

	datacenterShift = SequenceBits
	nodeShift       = SequenceBits + DatacenterBits
	timestampShift  = SequenceBits + DatacenterBits + NodeBits
)

// Parts ID 各字段
type Parts struct {
	TimestampOffset int64 `json:"timestamp_offset" msgpack:"timestamp_offset"`
	NodeID          int64 `json:"node_id" msgpack:"node_id"`
	DatacenterID    int64 `json:"datacenter_id" msgpack:"datacenter_id"`
	Sequence        int64 `json:"sequence" msgpack:"sequence"`
}

// Time 返回 ID 的生成时间
func (p Parts) Time() time.Time {
	return time.UnixMilli(Epoch + p.TimestampOffset)
}

// Decompose 拆解 ID
func Decompose(id int64) Parts {
	return Parts{
		TimestampOffset: id >> timestampShift & MaxTimestamp,
		NodeID:          id >> nodeShift & MaxNodeID,
		DatacenterID:    id >> datacenterShift & MaxDatacenterID,
		Sequence:        id & MaxSequence,
	}
}

// Compose 按位结构组装 ID，超出位宽的部分被截断
func Compose(p Parts) int64 {
	return (p.TimestampOffset&MaxTimestamp)<<timestampShift |
		(p.NodeID&MaxNodeID)<<nodeShift |
		(p.DatacenterID&MaxDatacenterID)<<datacenterShift |
		p.Sequence&MaxSequence
}
