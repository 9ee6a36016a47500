package idgen

import "github.com/ceyewan/idgend/xerrors"

var (
	// ErrInvalidInput 无效的输入
	ErrInvalidInput = xerrors.Derive(xerrors.ErrInvalidInput, "idgen: invalid input")

	// ErrClockRegression 时钟回拨，本次调用未修改生成器状态
	ErrClockRegression = xerrors.New("idgen: clock moved backwards")

	// ErrTimestampOverflow 时间戳超出 41 位可表示范围
	ErrTimestampOverflow = xerrors.New("idgen: timestamp overflow")

	// ErrSlotLost Worker 槽位已丢失，生成器被熔断
	ErrSlotLost = xerrors.New("idgen: worker slot lost")

	// ErrStoreUnavailable 协调存储不可用
	ErrStoreUnavailable = xerrors.Derive(xerrors.ErrUnavailable, "idgen: coordination store unavailable")

	// ErrSlotsExhausted 所有槽位都已被占用
	ErrSlotsExhausted = xerrors.New("idgen: no available worker slot")

	// ErrLeaseRenewal 租约续约失败
	ErrLeaseRenewal = xerrors.New("idgen: lease renewal failed")

	// ErrAlreadyStarted 分配器不可重复启动
	ErrAlreadyStarted = xerrors.New("idgen: allocator already started")
)
