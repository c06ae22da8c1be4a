//go:build !linux

package repo

import "io/fs"

// fsMeta is the subset of a file's OS metadata a key entry records.
type fsMeta struct {
	modified    int64
	accessed    int64
	permissions uint64
	userID      uint64
	groupID     uint64
}

// readFsMeta falls back to the portable os.FileInfo fields; access time
// and ownership are not read on non-Linux platforms and stay zero.
func readFsMeta(info fs.FileInfo) fsMeta {
	return fsMeta{
		modified:    info.ModTime().Unix(),
		permissions: uint64(info.Mode().Perm()),
	}
}
