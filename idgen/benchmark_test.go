package idgen

import "testing"

func BenchmarkNextID(b *testing.B) {
	g, _ := NewGenerator(1, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = g.NextID()
	}
}

func BenchmarkNextID_Parallel(b *testing.B) {
	g, _ := NewGenerator(1, 1)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = g.NextID()
		}
	})
}

func BenchmarkDecompose(b *testing.B) {
	id := Compose(Parts{TimestampOffset: 123456789, NodeID: 3, DatacenterID: 1, Sequence: 42})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Decompose(id)
	}
}
