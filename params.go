package coap

import (
	"time"

	"github.com/pkg/errors"

	"github.com/ironzhang/coap/v2/internal/stack/base"
)

// TransmissionParams 传输参数
type TransmissionParams struct {
	AckTimeout      time.Duration
	AckRandomFactor float64
	BackoffFactor   float64
	MaxRetransmit   int

	// ExchangeLifetime CON消息在去重缓存中的保留时长
	ExchangeLifetime time.Duration

	// NonLifetime NON消息在去重缓存中的保留时长
	NonLifetime time.Duration

	// ResponseTimeout 收到空ACK或发出NON请求后等待响应的时长, <=0则不限制
	ResponseTimeout time.Duration

	// DedupCapacity 去重缓存容量, <=0则不限制
	DedupCapacity int
}

// DefaultParams 返回协议默认传输参数.
func DefaultParams() TransmissionParams {
	return TransmissionParams{
		AckTimeout:       base.ACK_TIMEOUT,
		AckRandomFactor:  base.ACK_RANDOM_FACTOR,
		BackoffFactor:    base.BACKOFF_FACTOR,
		MaxRetransmit:    base.MAX_RETRANSMIT,
		ExchangeLifetime: base.EXCHANGE_LIFETIME,
		NonLifetime:      base.NON_LIFETIME,
		ResponseTimeout:  base.MAX_TRANSMIT_WAIT,
		DedupCapacity:    4096,
	}
}

// Validate 检查参数取值.
func (p TransmissionParams) Validate() error {
	switch {
	case p.AckTimeout <= 0:
		return errors.Errorf("invalid ack timeout %v", p.AckTimeout)
	case p.AckRandomFactor < 1:
		return errors.Errorf("invalid ack random factor %v", p.AckRandomFactor)
	case p.BackoffFactor < 1:
		return errors.Errorf("invalid backoff factor %v", p.BackoffFactor)
	case p.MaxRetransmit < 0:
		return errors.Errorf("invalid max retransmit %d", p.MaxRetransmit)
	case p.ExchangeLifetime <= 0 || p.NonLifetime <= 0:
		return errors.New("invalid dedup lifetime")
	}
	return nil
}
