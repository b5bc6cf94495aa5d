package gpcpubsub

import "context"

// Stream is one node of a linked list of published values.
//
// Ready is closed once Val and Next are set.
// A subscriber holding a node keeps every later node reachable,
// so subscribers that stop reading must drop their reference.
type Stream[T any] struct {
	Ready chan struct{}
	Next  *Stream[T]
	Val   T
}

func NewStream[T any]() *Stream[T] {
	return &Stream[T]{
		Ready: make(chan struct{}),
	}
}

// Publish sets s's value, allocates s.Next, and closes s.Ready.
// It panics if s was already published.
func (s *Stream[T]) Publish(v T) {
	s.Val = v
	s.Next = NewStream[T]()
	close(s.Ready)
}

// Await blocks until s is published or ctx is done.
// On success it returns the value and the node that follows it.
func (s *Stream[T]) Await(ctx context.Context) (T, *Stream[T], error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, s, context.Cause(ctx)
	case <-s.Ready:
		return s.Val, s.Next, nil
	}
}

// Tail is the write end of a stream shared by concurrent publishers.
// The zero value is not usable; see [NewTail].
type Tail[T any] struct {
	ch chan *Stream[T]
}

func NewTail[T any]() *Tail[T] {
	t := &Tail[T]{ch: make(chan *Stream[T], 1)}
	t.ch <- NewStream[T]()
	return t
}

// Publish appends v to the stream.
// It is safe to call from multiple goroutines.
func (t *Tail[T]) Publish(v T) {
	s := <-t.ch
	s.Publish(v)
	t.ch <- s.Next
}

// Subscribe returns the node that the next Publish call will fill.
func (t *Tail[T]) Subscribe() *Stream[T] {
	s := <-t.ch
	t.ch <- s
	return s
}
