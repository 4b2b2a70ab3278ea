package storage

const minDequeCap = 8

// deque is a double-ended queue on a ring buffer
type deque struct {
	buf  [][]byte
	head int
	size int
}

func (d *deque) Len() int {
	return d.size
}

func (d *deque) PushFront(v []byte) {
	d.grow()
	d.head = (d.head - 1 + len(d.buf)) % len(d.buf)
	d.buf[d.head] = v
	d.size++
}

func (d *deque) PushBack(v []byte) {
	d.grow()
	d.buf[(d.head+d.size)%len(d.buf)] = v
	d.size++
}

func (d *deque) PopFront() []byte {
	v := d.buf[d.head]
	d.buf[d.head] = nil
	d.head = (d.head + 1) % len(d.buf)
	d.size--
	return v
}

func (d *deque) PopBack() []byte {
	idx := (d.head + d.size - 1) % len(d.buf)
	v := d.buf[idx]
	d.buf[idx] = nil
	d.size--
	return v
}

// At returns the i-th element counting from the front. i must be in [0, Len())
func (d *deque) At(i int) []byte {
	return d.buf[(d.head+i)%len(d.buf)]
}

func (d *deque) grow() {
	if d.size < len(d.buf) {
		return
	}

	newCap := len(d.buf) * 2
	if newCap < minDequeCap {
		newCap = minDequeCap
	}

	buf := make([][]byte, newCap)
	for i := 0; i < d.size; i++ {
		buf[i] = d.At(i)
	}

	d.buf = buf
	d.head = 0
}
