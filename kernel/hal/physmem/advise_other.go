//go:build !linux

package physmem

func adviseHugePages(_ []byte) {}
