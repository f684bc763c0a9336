//go:build nogpu

package gpu

// Stub dispatcher for builds without device support. Init always fails, so
// callers stay on their host path.

type Dispatcher struct{}

func NewDispatcher() *Dispatcher { return &Dispatcher{} }

func (d *Dispatcher) Ready() bool { return false }

func (d *Dispatcher) Init() error { return ErrNotReady }

func (d *Dispatcher) Close() {}

func (d *Dispatcher) Dispatch(in *Input) (*Pending, error) { return nil, ErrNotReady }

type Pending struct{}

func (p *Pending) Wait() ([]uint32, []Element, error) { return nil, nil, ErrNotReady }

func (p *Pending) OutputRange() (offset, elemStride uint64) { return 0, 0 }

func (p *Pending) CopyOutputTo(dst any, dstOffset uint64, n uint32) error { return ErrNotReady }
