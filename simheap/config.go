package simheap

import "fmt"

import s "github.com/bnclabs/gosettings"
import "github.com/bnclabs/gcalloc/api"

// Defaultsettings for simulated collaborators.
//
// "section.size" (int64, default: 1MB)
//		Size of a single major heap section.
//
// "los.pagesize" (int64, default: 4096)
//		Large objects are rounded up to a multiple of this.
func Defaultsettings() s.Settings {
	return s.Settings{
		"section.size": int64(1024 * 1024),
		"los.pagesize": int64(4096),
	}
}

func checksize(name string, size int64) {
	if size <= 0 || (size%api.Alignment) != 0 {
		panic(fmt.Errorf("%v %v not a multiple of %v", name, size, api.Alignment))
	}
}

func roundup(size, to int64) int64 {
	return ((size + to - 1) / to) * to
}
