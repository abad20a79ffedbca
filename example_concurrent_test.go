// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !race

// Examples in this file recycle packets through lock-free rings across
// goroutines. The race detector cannot follow the ordering atomix
// provides and reports false positives, so they are excluded from race
// testing.

package iocp_test

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"code.hybscloud.com/iocp"
)

// ExamplePort_Remove demonstrates a worker pool draining a port.
func ExamplePort_Remove() {
	const workers = 4
	p := iocp.New().Concurrency(workers).Processors(workers).Build()

	var (
		mu        sync.Mutex
		keys      []int
		wg        sync.WaitGroup
		delivered sync.WaitGroup
	)
	delivered.Add(8)
	for w := range workers {
		wg.Add(1)
		go func(proc int) {
			defer wg.Done()
			th := iocp.NewThread(iocp.Caller{Processor: proc})
			defer th.Exit()
			for {
				c, err := p.Remove(context.Background(), th, iocp.Infinite)
				if err != nil {
					// ErrCancelled once the port is closed
					return
				}
				mu.Lock()
				keys = append(keys, int(c.Key))
				mu.Unlock()
				delivered.Done()
			}
		}(w)
	}

	for k := range 8 {
		p.Post(iocp.Caller{Processor: k}, iocp.Completion{Key: uintptr(k)}, false)
	}
	delivered.Wait()
	p.Close(iocp.Caller{})
	wg.Wait()

	slices.Sort(keys)
	fmt.Println(keys)

	// Output:
	// [0 1 2 3 4 5 6 7]
}
