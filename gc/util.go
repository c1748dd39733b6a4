package gc

import "fmt"

import "github.com/bnclabs/gcalloc/api"

func panicerr(fmsg string, args ...interface{}) {
	panic(fmt.Errorf(fmsg, args...))
}

func checksize(size int64) {
	if size < api.MinObjsize {
		panicerr("object size %v less than %v", size, api.MinObjsize)
	} else if (size & (api.Alignment - 1)) != 0 {
		panicerr("object size %v is not %v byte aligned", size, api.Alignment)
	}
}

func minaddr(a, b api.Addr) api.Addr {
	if a < b {
		return a
	}
	return b
}
