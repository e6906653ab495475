//go:build linux

package procmap

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LinuxProvider reads /proc/self/maps, the same source a preload/launcher
// layer uses to resolve module base addresses.
type LinuxProvider struct{}

// NewProvider returns the platform Provider for this GOOS.
func NewProvider() Provider { return LinuxProvider{} }

func (LinuxProvider) Executable() ([]Mapping, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, fmt.Errorf("procmap: open /proc/self/maps: %w", err)
	}
	defer f.Close()

	var out []Mapping
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m, execOK, err := parseLine(sc.Text())
		if err != nil || !execOK {
			continue
		}
		out = append(out, m)
	}
	return out, sc.Err()
}

func (p LinuxProvider) Module(name string) ([]Mapping, error) {
	all, err := p.Executable()
	if err != nil {
		return nil, err
	}
	var out []Mapping
	for _, m := range all {
		if strings.Contains(m.Name, name) {
			out = append(out, m)
		}
	}
	return out, nil
}

// parseLine parses one /proc/self/maps line, e.g.:
//
//	7f2b1c000000-7f2b1c021000 r-xp 00000000 08:01 131074 /lib/x86_64-linux-gnu/libc.so.6
func parseLine(line string) (Mapping, bool, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Mapping{}, false, fmt.Errorf("procmap: short line %q", line)
	}
	perms := fields[1]
	if !strings.Contains(perms, "x") {
		return Mapping{}, false, nil
	}

	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return Mapping{}, false, fmt.Errorf("procmap: bad address range %q", fields[0])
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return Mapping{}, false, err
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return Mapping{}, false, err
	}

	var name string
	if len(fields) >= 6 {
		name = fields[5]
	}

	var offset uint64
	if len(fields) >= 3 {
		offset, _ = strconv.ParseUint(fields[2], 16, 64)
	}

	return Mapping{Name: name, Start: start, End: end, ModuleOffset: offset}, true, nil
}
