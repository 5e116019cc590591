package backend

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/ehrlich-b/go-nvmecheck/internal/interfaces"
)

// BenchmarkBackends measures block-sized transfers against each media type
func BenchmarkBackends(b *testing.B) {
	const mediaSize = 16 << 20

	makers := map[string]func() (interfaces.Backend, error){
		"memory": func() (interfaces.Backend, error) { return NewMemory(mediaSize), nil },
		"badger": func() (interfaces.Backend, error) { return NewBadger("", mediaSize, 4096) },
	}

	for name, mk := range makers {
		for _, size := range []int{512, 4096} {
			b.Run(fmt.Sprintf("%s/%dB", name, size), func(b *testing.B) {
				m, err := mk()
				if err != nil {
					b.Fatal(err)
				}
				defer m.Close()

				buf := make([]byte, size)
				rand.Read(buf)
				b.SetBytes(int64(size))
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					off := int64(rand.Intn(mediaSize/size)) * int64(size)
					if _, err := m.WriteAt(buf, off); err != nil {
						b.Fatal(err)
					}
					if _, err := m.ReadAt(buf, off); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}
