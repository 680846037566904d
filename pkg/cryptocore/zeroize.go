package cryptocore

import "runtime"

// Zero overwrites data with zero bytes in place. Used to scrub ephemeral
// and intermediate shared-secret material before it is released or
// overwritten, per the handshake session's drop/reset contract. The
// runtime.KeepAlive call prevents the compiler from eliding the writes as
// dead stores.
func Zero(data []byte) {
	for i := range data {
		data[i] = 0
	}
	runtime.KeepAlive(data)
}

// ZeroAll zeroes each slice in order. Slices that are nil are skipped.
func ZeroAll(slices ...[]byte) {
	for _, s := range slices {
		if s != nil {
			Zero(s)
		}
	}
}
