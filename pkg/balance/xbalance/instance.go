package xbalance

import (
	"maps"
	"net"
	"net/url"
	"strconv"
)

// =============================================================================
// 实例元数据常量
// =============================================================================

const (
	// MetadataGray 实例元数据中的灰度标记键
	MetadataGray = "gray"

	// MetadataGrayValue 灰度实例的元数据取值（大小写敏感）
	MetadataGrayValue = "true"
)

// 分区名称，用于错误信息、日志和指标
const (
	PartitionGray   = "gray"
	PartitionNormal = "normal"
)

// =============================================================================
// Instance
// =============================================================================

// Instance 服务的一个可达实例。
//
// 由服务发现产生，每次查询返回的是一份快照，调用方不应修改。
// 同一服务内以 (Host, Port) 作为实例标识。
type Instance struct {
	// ID 注册时分配的实例标识，可为空
	ID string `json:"id,omitempty"`
	// Host 主机名或 IP
	Host string `json:"host"`
	// Port 端口
	Port int `json:"port"`
	// Metadata 实例元数据
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Addr 返回 host:port 形式的地址（IPv6 主机会加方括号）。
func (i Instance) Addr() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// IsGray 判断实例是否为灰度实例：metadata["gray"] == "true"。
func (i Instance) IsGray() bool {
	return i.Metadata[MetadataGray] == MetadataGrayValue
}

// SameAs 判断两个实例的标识 (Host, Port) 是否相同。
func (i Instance) SameAs(other Instance) bool {
	return i.Host == other.Host && i.Port == other.Port
}

// Clone 返回深拷贝，元数据不与原实例共享。
func (i Instance) Clone() Instance {
	i.Metadata = maps.Clone(i.Metadata)
	return i
}

// URL 返回指向实例根路径的 URL，如 http://10.0.0.1:8080/。
// scheme 为空时使用 http。
func (i Instance) URL(scheme string) *url.URL {
	if scheme == "" {
		scheme = "http"
	}
	return &url.URL{Scheme: scheme, Host: i.Addr(), Path: "/"}
}

// ReconstructURL 用选中实例的地址替换 original 中的逻辑服务名，
// 保留 scheme、path、query 和 fragment。original 不会被修改。
//
//	http://svc-a/users?id=1  ->  http://10.0.0.1:8080/users?id=1
func ReconstructURL(inst Instance, original *url.URL) *url.URL {
	if original == nil {
		return inst.URL("")
	}
	u := *original
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	u.Host = inst.Addr()
	if u.User != nil {
		user := *u.User
		u.User = &user
	}
	return &u
}

// CloneInstances 返回实例列表的深拷贝。
func CloneInstances(pool []Instance) []Instance {
	if pool == nil {
		return nil
	}
	out := make([]Instance, len(pool))
	for i := range pool {
		out[i] = pool[i].Clone()
	}
	return out
}

// =============================================================================
// Partition
// =============================================================================

// Partition 按灰度元数据对实例池的划分，两部分互不相交。
type Partition struct {
	Gray   []Instance
	Normal []Instance
}

// PartitionOf 按 Instance.IsGray 划分实例池。每次选择重新计算，不缓存。
func PartitionOf(pool []Instance) Partition {
	var p Partition
	for _, inst := range pool {
		if inst.IsGray() {
			p.Gray = append(p.Gray, inst)
		} else {
			p.Normal = append(p.Normal, inst)
		}
	}
	return p
}

// Select 返回灰度或普通分区及其名称。
func (p Partition) Select(gray bool) (name string, pool []Instance) {
	if gray {
		return PartitionGray, p.Gray
	}
	return PartitionNormal, p.Normal
}
