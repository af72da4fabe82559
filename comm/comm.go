package comm

import (
	"errors"
	"fmt"
	"math"
)

// ErrAborted is raised on a rank blocked in a collective when the world is torn down.
var ErrAborted = errors.New("comm: world aborted")

// Communicator is the collective and point-to-point surface a rank sees.
// Every collective must be called by all ranks of the world in the same order.
type Communicator interface {
	Rank() int
	Size() int

	// Sum returns the global sum of x over all ranks.
	Sum(x float64) float64
	// SumSlice reduces src elementwise over all ranks into dst.
	SumSlice(dst, src []float64)
	// Max returns the global maximum of x over all ranks.
	Max(x float64) float64
	// AllGather returns the local slices of every rank, indexed by rank.
	AllGather(local []float64) [][]float64
	// AllGatherInts is AllGather for integer payloads.
	AllGatherInts(local []int) [][]int
	// Exchange sends sends[q] to every rank q and receives one message from
	// every rank in recvFrom. Received slices are owned by the caller.
	Exchange(sends map[int][]float64, recvFrom []int) map[int][]float64
	Barrier()
}

type serial struct{}

// Serial returns the single-process communicator.
func Serial() Communicator { return serial{} }

func (serial) Rank() int             { return 0 }
func (serial) Size() int             { return 1 }
func (serial) Sum(x float64) float64 { return x }
func (serial) Max(x float64) float64 { return x }
func (serial) Barrier()              {}

func (serial) SumSlice(dst, src []float64) {
	if len(dst) != len(src) {
		panic("comm: slice length mismatch")
	}
	copy(dst, src)
}

func (serial) AllGather(local []float64) [][]float64 {
	return [][]float64{append([]float64(nil), local...)}
}

func (serial) AllGatherInts(local []int) [][]int {
	return [][]int{append([]int(nil), local...)}
}

func (serial) Exchange(sends map[int][]float64, recvFrom []int) map[int][]float64 {
	if len(sends) != 0 || len(recvFrom) != 0 {
		panic(fmt.Sprintf("comm: serial communicator has no peers (sends %d, receives %d)", len(sends), len(recvFrom)))
	}
	return map[int][]float64{}
}

type reduceOp int

const (
	opSum reduceOp = iota
	opMax
	opGather
)

// combine reduces contributions in rank order so that every rank observes
// bit-identical results.
func combine(op reduceOp, parts [][]float64) [][]float64 {
	switch op {
	case opGather:
		return parts
	case opSum, opMax:
		n := len(parts[0])
		out := make([]float64, n)
		if op == opMax {
			for i := range out {
				out[i] = math.Inf(-1)
			}
		}
		for _, p := range parts {
			if len(p) != n {
				panic(fmt.Sprintf("comm: reduction length mismatch %d != %d", len(p), n))
			}
			for i, v := range p {
				if op == opSum {
					out[i] += v
				} else if v > out[i] {
					out[i] = v
				}
			}
		}
		return [][]float64{out}
	}
	panic("comm: unknown reduction")
}

func intsToFloats(x []int) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

func floatsToInts(x []float64) []int {
	out := make([]int, len(x))
	for i, v := range x {
		out[i] = int(v)
	}
	return out
}
