//go:build amd64

package hostcpu

const cpuX86 = true
