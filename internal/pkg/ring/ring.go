package ring

// Buffer is a bounded FIFO sequence. Once full, every Push evicts the oldest
// element. Buffer is not safe for concurrent use; callers hold their own lock.
type Buffer[T any] struct {
	items []T
	start int
	size  int
}

// New creates a buffer holding at most capacity elements.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Cap returns the maximum number of elements the buffer retains.
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Len returns the number of elements currently held.
func (b *Buffer[T]) Len() int {
	return b.size
}

// Push appends v, evicting the oldest element if the buffer is full.
func (b *Buffer[T]) Push(v T) {
	if b.size < len(b.items) {
		b.items[(b.start+b.size)%len(b.items)] = v
		b.size++
		return
	}
	b.items[b.start] = v
	b.start = (b.start + 1) % len(b.items)
}

// Replace discards the current contents and pushes vs in order.
func (b *Buffer[T]) Replace(vs []T) {
	b.Reset()
	for _, v := range vs {
		b.Push(v)
	}
}

// Tail returns a copy of the newest n elements in insertion order.
// n <= 0 or n > Len returns every element.
func (b *Buffer[T]) Tail(n int) []T {
	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]T, n)
	offset := b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(b.start+offset+i)%len(b.items)]
	}
	return out
}

// Items returns a copy of every element, oldest first.
func (b *Buffer[T]) Items() []T {
	return b.Tail(0)
}

// Reset empties the buffer without releasing its storage.
func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.start = 0
	b.size = 0
}
