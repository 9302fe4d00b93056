// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A lock-free MPMC queue and a resizable worker-pool Executor built on
// it, used by core/driver/fakedriver to simulate a driver's asynchronous
// fence-completion thread.
package concurrency
