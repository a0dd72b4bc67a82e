//go:build unix

package platform

import "golang.org/x/sys/unix"

func socketGID(path string) (int, bool) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, false
	}
	return int(st.Gid), true
}
