package mapi

import "sync/atomic"

// noCopy may be embedded into structs which must not be copied after first
// use. Lock/Unlock are no-ops consumed only by the go vet -copylocks check.
//
// https://github.com/golang/go/issues/8005#issuecomment-190753527
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// atomicBool is a small wrapper around uint32 for atomic boolean flags:
// Connection.closed, blockTransport.closed, and similar once-set latches
// that must be safe to read from the reader goroutine and the caller
// goroutine at the same time.
type atomicBool struct {
	_     noCopy
	value uint32
}

func (ab *atomicBool) Load() bool {
	return atomic.LoadUint32(&ab.value) > 0
}

func (ab *atomicBool) Store(value bool) {
	if value {
		atomic.StoreUint32(&ab.value, 1)
	} else {
		atomic.StoreUint32(&ab.value, 0)
	}
}

func (ab *atomicBool) Swap(value bool) bool {
	if value {
		return atomic.SwapUint32(&ab.value, 1) > 0
	}
	return atomic.SwapUint32(&ab.value, 0) > 0
}
