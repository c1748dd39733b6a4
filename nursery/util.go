package nursery

import "fmt"

import "github.com/bnclabs/gcalloc/api"

func panicerr(fmsg string, args ...interface{}) {
	panic(fmt.Errorf(fmsg, args...))
}

func checkaligned(addr api.Addr, size int64) {
	if !api.Isaligned(addr) {
		panicerr("address %x is not %v byte aligned", uintptr(addr), api.Alignment)
	} else if (size & (api.Alignment - 1)) != 0 {
		panicerr("size %v is not %v byte aligned", size, api.Alignment)
	}
}
