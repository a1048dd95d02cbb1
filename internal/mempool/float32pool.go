// Package mempool recycles float32 buffers used for model input and output tensors.
package mempool

import "sync"

const classStep = 64 * 1024

// pools maps a size class to its *sync.Pool.
var pools sync.Map

// sizeClass rounds n up to a multiple of classStep, with classStep as the floor.
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return ((n + classStep - 1) / classStep) * classStep
}

func poolFor(cls int) *sync.Pool {
	if p, ok := pools.Load(cls); ok {
		return p.(*sync.Pool)
	}
	p, _ := pools.LoadOrStore(cls, &sync.Pool{
		New: func() any {
			buf := make([]float32, cls)
			return &buf
		},
	})
	return p.(*sync.Pool)
}

// GetFloat32 returns a buffer of length n. Contents are not zeroed.
// Return it with PutFloat32 when done.
func GetFloat32(n int) []float32 {
	if n < 0 {
		n = 0
	}
	cls := sizeClass(n)
	bp := poolFor(cls).Get().(*[]float32)
	buf := *bp
	if cap(buf) < cls {
		buf = make([]float32, cls)
	}
	return buf[:n]
}

// PutFloat32 hands a buffer back. Buffers not obtained from GetFloat32 are dropped
// unless their capacity matches a size class exactly.
func PutFloat32(buf []float32) {
	if buf == nil {
		return
	}
	c := cap(buf)
	if c != sizeClass(c) {
		return
	}
	full := buf[:c]
	poolFor(c).Put(&full)
}
