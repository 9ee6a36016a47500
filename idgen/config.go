package idgen

import (
	"strconv"
	"time"

	"github.com/ceyewan/idgend/xerrors"
)

// Config 服务级配置，对应配置文件的 idgen 段
type Config struct {
	// DatacenterID 数据中心 ID [0, 31]
	DatacenterID int64 `mapstructure:"datacenter_id" yaml:"datacenter_id" json:"datacenter_id"`

	Allocator AllocatorConfig `mapstructure:",squash" yaml:",inline" json:"allocator"`
}

// AllocatorConfig Worker 槽位分配器配置
type AllocatorConfig struct {
	// SlotPrefix 锁名前缀，槽位 i 的锁名为 SlotPrefix+i，默认 "id-gen-worker-"
	SlotPrefix string `mapstructure:"slot_prefix" yaml:"slot_prefix" json:"slot_prefix"`

	// MaxSlots 槽位数 [1, 32]，默认 32，与 5 位节点字段对应
	MaxSlots int `mapstructure:"max_slots" yaml:"max_slots" json:"max_slots"`

	// LeaseTTL 租约 TTL，按秒取整，默认 15s
	LeaseTTL time.Duration `mapstructure:"lease_ttl" yaml:"lease_ttl" json:"lease_ttl"`

	// RenewTimeout 单次续约超时，默认 LeaseTTL/3
	RenewTimeout time.Duration `mapstructure:"renew_timeout" yaml:"renew_timeout" json:"renew_timeout"`
}

// DefaultAllocatorConfig 返回默认配置
func DefaultAllocatorConfig() *AllocatorConfig {
	c := &AllocatorConfig{}
	c.setDefaults()
	return c
}

func (c *AllocatorConfig) setDefaults() {
	if c.SlotPrefix == "" {
		c.SlotPrefix = "id-gen-worker-"
	}
	if c.MaxSlots == 0 {
		c.MaxSlots = MaxNodeID + 1
	}
	if c.LeaseTTL == 0 {
		c.LeaseTTL = 15 * time.Second
	}
	if c.RenewTimeout == 0 {
		c.RenewTimeout = c.LeaseTTL / 3
	}
}

func (c *AllocatorConfig) validate() error {
	if c.MaxSlots < 1 || c.MaxSlots > MaxNodeID+1 {
		return xerrors.WithCode(ErrInvalidInput, "max_slots_out_of_range")
	}
	if c.LeaseTTL < time.Second {
		return xerrors.WithCode(ErrInvalidInput, "lease_ttl_too_short")
	}
	if c.RenewTimeout <= 0 || c.RenewTimeout >= c.LeaseTTL {
		return xerrors.WithCode(ErrInvalidInput, "renew_timeout_out_of_range")
	}
	return nil
}

func (c *AllocatorConfig) slotName(i int) string {
	return c.SlotPrefix + strconv.Itoa(i)
}

func (c *AllocatorConfig) ttlSeconds() int64 {
	return int64(c.LeaseTTL / time.Second)
}
