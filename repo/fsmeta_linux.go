//go:build linux

package repo

import (
	"io/fs"
	"syscall"
)

// fsMeta is the subset of a file's OS metadata a key entry records.
type fsMeta struct {
	modified    int64
	accessed    int64
	permissions uint64
	userID      uint64
	groupID     uint64
}

func readFsMeta(info fs.FileInfo) fsMeta {
	meta := fsMeta{
		modified:    info.ModTime().Unix(),
		permissions: uint64(info.Mode().Perm()),
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		meta.accessed = stat.Atim.Sec
		meta.userID = uint64(stat.Uid)
		meta.groupID = uint64(stat.Gid)
	}
	return meta
}
