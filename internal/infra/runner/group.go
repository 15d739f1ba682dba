package runner

import (
	"context"
	"sync"
)

// Exit describes a worker that returned.
type Exit struct {
	Name string
	Err  error
}

// Group runs long-lived workers. Done yields the first worker to return,
// which is normally the signal to shut the process down.
type Group struct {
	wg    sync.WaitGroup
	once  sync.Once
	first chan Exit
}

func NewGroup() *Group { return &Group{first: make(chan Exit, 1)} }

func (g *Group) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		err := fn(ctx)
		g.once.Do(func() { g.first <- Exit{Name: name, Err: err} })
	}()
}

func (g *Group) Done() <-chan Exit { return g.first }

func (g *Group) Wait() { g.wg.Wait() }
