package mwtree

import "github.com/prometheus/client_golang/prometheus"

var (
	arenaNodesDesc = prometheus.NewDesc(
		"mwtree_arena_nodes",
		"Slots currently allocated, by pool.",
		[]string{"arena", "pool"}, nil)
	arenaChunksDesc = prometheus.NewDesc(
		"mwtree_arena_chunks",
		"Chunks opened, by pool.",
		[]string{"arena", "pool"}, nil)
	arenaCapacityDesc = prometheus.NewDesc(
		"mwtree_arena_capacity_nodes",
		"Configured slot capacity, by pool.",
		[]string{"arena", "pool"}, nil)
	arenaAllocsDesc = prometheus.NewDesc(
		"mwtree_arena_allocations_total",
		"Slots handed out since the arena was created, by pool.",
		[]string{"arena", "pool"}, nil)
)

// ArenaCollector exports arena usage as Prometheus metrics. Values are read
// from Stats at scrape time.
type ArenaCollector[T Scalar] struct {
	name  string
	arena *Arena[T]
}

func NewArenaCollector[T Scalar](name string, a *Arena[T]) *ArenaCollector[T] {
	return &ArenaCollector[T]{name: name, arena: a}
}

func (c *ArenaCollector[T]) Describe(ch chan<- *prometheus.Desc) {
	ch <- arenaNodesDesc
	ch <- arenaChunksDesc
	ch <- arenaCapacityDesc
	ch <- arenaAllocsDesc
}

func (c *ArenaCollector[T]) Collect(ch chan<- prometheus.Metric) {
	s := c.arena.Stats()
	pools := []struct {
		pool     string
		nodes    int
		chunks   int
		capacity int
		allocs   uint64
	}{
		{"node", s.Nodes, s.Chunks, s.MaxNodes, s.Allocations},
		{"gen", s.GenNodes, s.GenChunks, s.MaxGenNodes, s.GenAllocations},
	}
	for _, p := range pools {
		ch <- prometheus.MustNewConstMetric(arenaNodesDesc, prometheus.GaugeValue, float64(p.nodes), c.name, p.pool)
		ch <- prometheus.MustNewConstMetric(arenaChunksDesc, prometheus.GaugeValue, float64(p.chunks), c.name, p.pool)
		ch <- prometheus.MustNewConstMetric(arenaCapacityDesc, prometheus.GaugeValue, float64(p.capacity), c.name, p.pool)
		ch <- prometheus.MustNewConstMetric(arenaAllocsDesc, prometheus.CounterValue, float64(p.allocs), c.name, p.pool)
	}
}
