// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iocp

import (
	"fmt"

	"code.hybscloud.com/atomix"
)

// Quota is a byte budget charged by quota allocations on behalf of one
// calling context, such as a tenant or a session.
//
// Each charge is matched by exactly one return: when the packet it paid
// for goes back to a lookaside tier or to the heap.
type Quota struct {
	limit   int64
	usage   atomix.Int64
	charges atomix.Uint64
	returns atomix.Uint64
}

// NewQuota creates a quota of limit bytes. A limit <= 0 never refuses a
// charge but still accounts for it.
func NewQuota(limit int64) *Quota {
	return &Quota{limit: limit}
}

// Charge debits n bytes. Returns an error wrapping [ErrQuotaExceeded] if
// the charge would exceed the limit; nothing is debited in that case.
func (q *Quota) Charge(n int64) error {
	if u := q.usage.AddAcqRel(n); q.limit > 0 && u > q.limit {
		q.usage.AddAcqRel(-n)
		return fmt.Errorf("%w: %d of %d bytes in use", ErrQuotaExceeded, u-n, q.limit)
	}
	q.charges.Add(1)
	return nil
}

// Return credits n bytes previously charged.
func (q *Quota) Return(n int64) {
	q.returns.Add(1)
	if q.usage.AddAcqRel(-n) < 0 {
		panic("iocp: quota returned more than was charged")
	}
}

// Usage returns the bytes currently charged.
func (q *Quota) Usage() int64 { return q.usage.Load() }

// Limit returns the configured limit.
func (q *Quota) Limit() int64 { return q.limit }

// Charges returns the number of successful charges.
func (q *Quota) Charges() uint64 { return q.charges.Load() }

// Returns returns the number of returns.
func (q *Quota) Returns() uint64 { return q.returns.Load() }
