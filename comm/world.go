package comm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// p2pDepth bounds the number of in-flight messages per ordered rank pair.
const p2pDepth = 64

type message struct {
	seq  uint64 // Per ordered rank pair
	data []float64
}

type contribution struct {
	rank int
	op   reduceOp
	data []float64
}

// World is a set of in-process ranks connected by channels.
type World struct {
	ID   string
	size int

	p2p    [][]chan message // [from][to]
	gather chan contribution
	bcast  []chan [][]float64
}

// NewWorld allocates the channels for size ranks.
func NewWorld(size int) *World {
	if size < 1 {
		panic(fmt.Sprintf("comm: world size must be positive, got %d", size))
	}
	w := &World{
		ID:     uuid.NewString(),
		size:   size,
		p2p:    make([][]chan message, size),
		gather: make(chan contribution, size),
		bcast:  make([]chan [][]float64, size),
	}
	for p := range size {
		w.p2p[p] = make([]chan message, size)
		for q := range size {
			if p != q {
				w.p2p[p][q] = make(chan message, p2pDepth)
			}
		}
		w.bcast[p] = make(chan [][]float64, 1)
	}
	return w
}

// Size returns the number of ranks.
func (w *World) Size() int { return w.size }

// Comm returns the communicator of rank r bound to ctx.
func (w *World) Comm(ctx context.Context, r int) Communicator {
	if r < 0 || r >= w.size {
		panic(fmt.Sprintf("comm: rank %d outside world of size %d", r, w.size))
	}
	return &rankComm{w: w, rank: r, ctx: ctx, sent: make([]uint64, w.size), received: make([]uint64, w.size)}
}

// Run executes fn concurrently on every rank of a fresh world of the given size.
// The first error or panic cancels the remaining ranks.
func Run(ctx context.Context, size int, fn func(ctx context.Context, c Communicator) error) error {
	if size == 1 {
		return runRank(ctx, 0, Serial(), fn)
	}
	w := NewWorld(size)
	slog.Debug("starting world", "world", w.ID, "size", size)
	g, gctx := errgroup.WithContext(ctx)
	for r := range size {
		g.Go(func() error {
			return runRank(gctx, r, w.Comm(gctx, r), fn)
		})
	}
	return g.Wait()
}

func runRank(ctx context.Context, r int, c Communicator, fn func(context.Context, Communicator) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if e, ok := p.(error); ok {
				err = fmt.Errorf("rank %d: %w", r, e)
				return
			}
			err = fmt.Errorf("rank %d: %v", r, p)
		}
	}()
	if err := fn(ctx, c); err != nil {
		return fmt.Errorf("rank %d: %w", r, err)
	}
	return nil
}

type rankComm struct {
	w    *World
	rank int
	ctx  context.Context

	// message counts per peer
	sent, received []uint64
}

func (c *rankComm) Rank() int { return c.rank }
func (c *rankComm) Size() int { return c.w.size }

func (c *rankComm) Sum(x float64) float64 {
	return c.allreduce(opSum, []float64{x})[0][0]
}

func (c *rankComm) Max(x float64) float64 {
	return c.allreduce(opMax, []float64{x})[0][0]
}

func (c *rankComm) SumSlice(dst, src []float64) {
	if len(dst) != len(src) {
		panic("comm: slice length mismatch")
	}
	copy(dst, c.allreduce(opSum, src)[0])
}

func (c *rankComm) AllGather(local []float64) [][]float64 {
	parts := c.allreduce(opGather, local)
	out := make([][]float64, len(parts))
	for i, p := range parts {
		out[i] = append([]float64(nil), p...)
	}
	return out
}

func (c *rankComm) AllGatherInts(local []int) [][]int {
	parts := c.allreduce(opGather, intsToFloats(local))
	out := make([][]int, len(parts))
	for i, p := range parts {
		out[i] = floatsToInts(p)
	}
	return out
}

func (c *rankComm) Barrier() {
	c.allreduce(opSum, nil)
}

// allreduce gathers contributions at rank 0 and broadcasts the combined result.
func (c *rankComm) allreduce(op reduceOp, data []float64) [][]float64 {
	c.send(c.w.gather, contribution{rank: c.rank, op: op, data: append([]float64(nil), data...)})
	if c.rank == 0 {
		parts := make([][]float64, c.w.size)
		for range c.w.size {
			in := c.recvContribution()
			if in.op != op {
				panic(fmt.Sprintf("comm: rank %d entered a different collective", in.rank))
			}
			parts[in.rank] = in.data
		}
		res := combine(op, parts)
		for q := range c.w.size {
			select {
			case c.w.bcast[q] <- res:
			case <-c.ctx.Done():
				panic(ErrAborted)
			}
		}
	}
	select {
	case res := <-c.w.bcast[c.rank]:
		return res
	case <-c.ctx.Done():
		panic(ErrAborted)
	}
}

func (c *rankComm) send(ch chan contribution, v contribution) {
	select {
	case ch <- v:
	case <-c.ctx.Done():
		panic(ErrAborted)
	}
}

func (c *rankComm) recvContribution() contribution {
	select {
	case v := <-c.w.gather:
		return v
	case <-c.ctx.Done():
		panic(ErrAborted)
	}
}

func (c *rankComm) Exchange(sends map[int][]float64, recvFrom []int) map[int][]float64 {
	targets := make([]int, 0, len(sends))
	for q := range sends {
		targets = append(targets, q)
	}
	sort.Ints(targets)
	for _, q := range targets {
		if q == c.rank || q < 0 || q >= c.w.size {
			panic(fmt.Sprintf("comm: rank %d cannot send to %d", c.rank, q))
		}
		c.sent[q]++
		msg := message{seq: c.sent[q], data: append([]float64(nil), sends[q]...)}
		select {
		case c.w.p2p[c.rank][q] <- msg:
		case <-c.ctx.Done():
			panic(ErrAborted)
		}
	}
	out := make(map[int][]float64, len(recvFrom))
	for _, q := range recvFrom {
		select {
		case msg := <-c.w.p2p[q][c.rank]:
			c.received[q]++
			if msg.seq != c.received[q] {
				panic(fmt.Sprintf("comm: rank %d got message %d from rank %d, expected %d",
					c.rank, msg.seq, q, c.received[q]))
			}
			out[q] = msg.data
		case <-c.ctx.Done():
			panic(ErrAborted)
		}
	}
	return out
}
