package loadbalance

import (
	"math/rand"

	"mux-rpc/registry"
)

type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(instances []registry.PeerInstance, _ string) (*registry.PeerInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	// 计算总权重
	totalWeight := 0
	for i := range instances {
		totalWeight += weight(&instances[i])
	}

	// 生成一个随机数，范围是0到总权重
	r := rand.Intn(totalWeight)
	for i := range instances {
		r -= weight(&instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

// weight treats an unset weight as 1 so unweighted peers still get traffic.
func weight(p *registry.PeerInstance) int {
	if p.Weight <= 0 {
		return 1
	}
	return p.Weight
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
