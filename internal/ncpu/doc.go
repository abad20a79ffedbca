// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ncpu reports the number of processing units available to the
// process: the CPUs in its affinity mask, capped by GOMAXPROCS.
package ncpu

import "runtime"

// Count returns the number of processing units, at least 1.
func Count() int {
	n := affinityCount()
	if p := runtime.GOMAXPROCS(0); p < n {
		n = p
	}
	if n < 1 {
		return 1
	}
	return n
}
