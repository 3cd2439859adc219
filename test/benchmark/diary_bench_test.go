package benchmark

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/TheMichaelB/silentpen/internal/services/diary"
	"github.com/TheMichaelB/silentpen/internal/storage"
	"github.com/TheMichaelB/silentpen/test/testutil"
)

func newBenchService(b *testing.B, entries int) *diary.Service {
	b.Helper()
	service := diary.NewService(storage.NewMemoryStore(), testutil.NewTestLogger(),
		diary.WithKDFParams(testutil.FastKDFParams()))

	for i := 0; i < entries; i++ {
		if err := service.Save(context.Background(), fmt.Sprintf("entry %d", i), "bench"); err != nil {
			b.Fatal(err)
		}
	}
	return service
}

func BenchmarkSave(b *testing.B) {
	sizes := []int{100, 10 * 1024, 1024 * 1024}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("%dB", size), func(b *testing.B) {
			ctx := context.Background()
			service := newBenchService(b, 0)
			content := strings.Repeat("x", size)

			b.ResetTimer()
			b.ReportAllocs()
			b.SetBytes(int64(size))

			for i := 0; i < b.N; i++ {
				if err := service.Save(ctx, content, "bench"); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkList(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("%d_entries", n), func(b *testing.B) {
			ctx := context.Background()
			service := newBenchService(b, n)

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, err := service.List(ctx, "bench"); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkExportImport(b *testing.B) {
	ctx := context.Background()
	source := newBenchService(b, 100)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		bundle, err := source.Export(ctx, "bench", "transfer")
		if err != nil {
			b.Fatal(err)
		}

		b.StopTimer()
		target := newBenchService(b, 0)
		b.StartTimer()

		if _, err := target.Import(ctx, "transfer", bundle, "other"); err != nil {
			b.Fatal(err)
		}
	}
}
