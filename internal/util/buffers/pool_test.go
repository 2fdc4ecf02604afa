package buffers

import "testing"

func TestChunkBufferPool(t *testing.T) {
	buf := GetChunkBuffer()
	if buf == nil {
		t.Fatal("GetChunkBuffer returned nil")
	}
	if len(*buf) != ChunkSize {
		t.Errorf("buffer size = %d, want %d", len(*buf), ChunkSize)
	}
	PutChunkBuffer(buf)

	buf2 := GetChunkBuffer()
	if buf2 == nil {
		t.Fatal("GetChunkBuffer returned nil on second call")
	}
	PutChunkBuffer(buf2)
}

func TestDecryptBufferPool(t *testing.T) {
	buf := GetDecryptBuffer()
	if buf == nil {
		t.Fatal("GetDecryptBuffer returned nil")
	}
	if len(*buf) != DecryptChunkSize {
		t.Errorf("buffer size = %d, want %d", len(*buf), DecryptChunkSize)
	}
	PutDecryptBuffer(buf)
}

func TestPutChunkBufferWithWrongSizeIsNotPooled(t *testing.T) {
	wrongSize := make([]byte, 1024)
	PutChunkBuffer(&wrongSize) // must not panic
}

func TestPutDecryptBufferWithWrongSizeIsNotPooled(t *testing.T) {
	wrongSize := make([]byte, 1024*1024)
	PutDecryptBuffer(&wrongSize) // must not panic
}

func TestPutNilBufferDoesNotPanic(t *testing.T) {
	PutChunkBuffer(nil)
	PutDecryptBuffer(nil)
}

func TestConcurrentAccess(t *testing.T) {
	const goroutines = 10
	const iterations = 100

	done := make(chan bool, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			for j := 0; j < iterations; j++ {
				buf := GetChunkBuffer()
				(*buf)[0] = byte(j)
				PutChunkBuffer(buf)

				small := GetDecryptBuffer()
				(*small)[0] = byte(j)
				PutDecryptBuffer(small)
			}
			done <- true
		}()
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}
}

func BenchmarkChunkBufferWithPool(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetChunkBuffer()
		_ = (*buf)[0]
		PutChunkBuffer(buf)
	}
}

func BenchmarkChunkBufferWithoutPool(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := make([]byte, ChunkSize)
		_ = buf[0]
	}
}
