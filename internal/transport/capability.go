package transport

import "github.com/pawelgaczynski/giouring"

// ioUringAvailable probes whether the host kernel supports io_uring, the
// same capability check the reference runtime's queue side performs before
// choosing a notification mechanism. PeerCreate surfaces the result in its
// launch log line only; the attach/read path always uses the plain pipe
// (a real io_uring-backed read path is future work, not implemented here).
func ioUringAvailable() bool {
	ring, err := giouring.CreateRing(8)
	if err != nil {
		return false
	}
	defer ring.QueueExit()
	return true
}
