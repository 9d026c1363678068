package state

import (
	"sync"
	"testing"
)

type pair struct {
	Width  int
	Height int
}

func TestCellLoadStore(t *testing.T) {
	c := NewCell(pair{Width: 1, Height: 2})

	v, ver := c.LoadVersioned()
	if v.Width != 1 || v.Height != 2 || ver != 0 {
		t.Fatalf("unexpected initial snapshot %+v version %d", v, ver)
	}

	if got := c.Store(pair{Width: 3, Height: 4}); got != 1 {
		t.Errorf("expected version 1, got %d", got)
	}
	if v := c.Load(); v.Width != 3 || v.Height != 4 {
		t.Errorf("unexpected value after store: %+v", v)
	}
}

func TestCellUpdate(t *testing.T) {
	c := NewCell(10)
	got := c.Update(func(v int) int { return v + 5 })
	if got != 15 || c.Load() != 15 {
		t.Errorf("expected 15, got %d / %d", got, c.Load())
	}
}

func TestCellReadersNeverSeeTornPairs(t *testing.T) {
	c := NewCell(pair{Width: 1, Height: 2})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan pair, 1)

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				v := c.Load()
				if v.Height != v.Width*2 {
					select {
					case errs <- v:
					default:
					}
					return
				}
			}
		}()
	}

	for i := 1; i <= 10000; i++ {
		c.Store(pair{Width: i, Height: i * 2})
	}
	close(stop)
	wg.Wait()

	select {
	case v := <-errs:
		t.Fatalf("observed torn pair %+v", v)
	default:
	}
	if _, ver := c.LoadVersioned(); ver != 10000 {
		t.Errorf("expected version 10000, got %d", ver)
	}
}
