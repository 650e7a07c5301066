package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Node 是裁剪后的节点信息，仅保留调度相关字段。
type Node struct {
	Name      string            `json:"name"`
	Labels    map[string]string `json:"labels,omitempty"`
	Addresses map[string]string `json:"addresses,omitempty"` // type → address
}

// RegionClusterState 是集群节点集合的快照，Name 作为节点选择标签写到节点上。
type RegionClusterState struct {
	ID          string    `json:"id"`
	Region      string    `json:"region"`
	ClusterName string    `json:"cluster_name"`
	Name        string    `json:"name"`
	NodesDigest string    `json:"nodes_digest"`
	NodesName   []string  `json:"nodes_name"`
	NodesData   []Node    `json:"nodes_data"`
	CreatedAt   time.Time `json:"created_at"`
}

// RCStateAppBinding 把应用固定到某个节点快照。
type RCStateAppBinding struct {
	AppID     string    `json:"app_id"`
	StateID   string    `json:"state_id"`
	StateName string    `json:"state_name"`
	CreatedAt time.Time `json:"created_at"`
}

// NodesDigest 计算排序后节点名的 SHA1。
func NodesDigest(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	sum := sha1.Sum([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// ClusterStateName 生成快照名：eng-cstate-{digest[:8]}-{seq}。
func ClusterStateName(digest string, seq int) string {
	short := digest
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("eng-cstate-%s-%d", short, seq)
}

// FilterNodes 剔除带有任一忽略标签（k=v）的节点。
func FilterNodes(nodes []Node, ignoreLabels map[string]string) []Node {
	if len(ignoreLabels) == 0 {
		return nodes
	}
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		ignored := false
		for k, v := range ignoreLabels {
			if val, ok := n.Labels[k]; ok && val == v {
				ignored = true
				break
			}
		}
		if !ignored {
			out = append(out, n)
		}
	}
	return out
}

// FullNodeSelector 合并集群默认选择器与应用绑定的快照标签。
func FullNodeSelector(cluster *Cluster, binding *RCStateAppBinding) map[string]string {
	sel := make(map[string]string)
	if cluster != nil {
		for k, v := range cluster.DefaultNodeSelector {
			sel[k] = v
		}
	}
	if binding != nil && binding.StateName != "" {
		sel[binding.StateName] = "1"
	}
	if len(sel) == 0 {
		return nil
	}
	return sel
}
