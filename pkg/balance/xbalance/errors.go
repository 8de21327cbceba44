package xbalance

import "errors"

// 选择过程返回的错误。
var (
	// ErrOutOfInstances 目标分区（灰度或普通）为空。不会回退到另一个分区。
	ErrOutOfInstances = errors.New("xbalance: out of instances")

	// ErrServiceNotFound 服务发现没有返回任何实例。
	ErrServiceNotFound = errors.New("xbalance: service not found")
)

// 构造与注册返回的错误。
var (
	// ErrNilDiscovery 未提供服务发现。
	ErrNilDiscovery = errors.New("xbalance: nil discovery")

	// ErrNilPicker 未提供实例选择器。
	ErrNilPicker = errors.New("xbalance: nil picker")

	// ErrEmptyRuleName 规则名称为空。
	ErrEmptyRuleName = errors.New("xbalance: empty rule name")

	// ErrNilRuleFactory 规则工厂为 nil。
	ErrNilRuleFactory = errors.New("xbalance: nil rule factory")

	// ErrDuplicateRule 规则名称已注册。
	ErrDuplicateRule = errors.New("xbalance: duplicate rule")

	// ErrUnknownRule 规则名称未注册。
	ErrUnknownRule = errors.New("xbalance: unknown rule")
)

// IsOutOfInstances 判断错误是否为分区为空。
func IsOutOfInstances(err error) bool {
	return errors.Is(err, ErrOutOfInstances)
}

// IsServiceNotFound 判断错误是否为服务不存在。
func IsServiceNotFound(err error) bool {
	return errors.Is(err, ErrServiceNotFound)
}
