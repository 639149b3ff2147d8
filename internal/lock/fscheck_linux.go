//go:build linux

package lock

import (
	"fmt"
	"syscall"
)

// Superblock magic numbers from linux/magic.h.
const (
	nfsMagic  = 0x6969
	cifsMagic = 0xFF534D42
	smbMagic  = 0x517B
	smb2Magic = 0xFE534D42
	afsMagic  = 0x5346414F
	v9fsMagic = 0x01021997
)

func detectFilesystemType(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs: %w", err)
	}

	switch uint64(st.Type) {
	case nfsMagic:
		return "nfs", nil
	case cifsMagic:
		return "cifs", nil
	case smbMagic:
		return "smbfs", nil
	case smb2Magic:
		return "smb2", nil
	case afsMagic:
		return "afs", nil
	case v9fsMagic:
		return "9p", nil
	}
	return fmt.Sprintf("0x%x", uint64(st.Type)), nil
}
