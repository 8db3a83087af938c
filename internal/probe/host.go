// Package probe reads host resource usage from /proc and statfs. The
// resource, storage and network sweeps feed these readings through the
// metric recorder under the pseudo-component "host".
package probe

import (
	"bufio"
	"errors"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Snapshot is one point-in-time host reading. Percentages are 0..100;
// CPUPct is zero on the very first collection because it needs a delta.
type Snapshot struct {
	TS        time.Time
	CPUPct    float64
	MemPct    float64
	MemUsed   int64
	MemTotal  int64
	NetRX     int64
	NetTX     int64
	Load1     float64
	UptimeSec int64
}

type DiskUsage struct {
	UsedPct    float64
	UsedBytes  int64
	TotalBytes int64
}

type Host struct {
	prevTotal uint64
	prevIdle  uint64
	hasPrev   bool
}

func NewHost() *Host { return &Host{} }

// Collect gathers CPU, memory, network and load readings. Partial
// failures degrade gracefully: a reading that cannot be taken stays at
// its zero value and the error is only returned when nothing was read.
func (h *Host) Collect() (Snapshot, error) {
	snap := Snapshot{TS: time.Now().UTC()}

	total, idle, cpuErr := readCPUCounters()
	if cpuErr == nil {
		if h.hasPrev {
			dTotal := total - h.prevTotal
			dIdle := idle - h.prevIdle
			if dTotal > 0 {
				snap.CPUPct = 100 * (1 - float64(dIdle)/float64(dTotal))
			}
		}
		h.prevTotal, h.prevIdle, h.hasPrev = total, idle, true
	}

	memTotal, memAvail, memErr := readMeminfo()
	if memErr == nil && memTotal > 0 {
		snap.MemTotal = int64(memTotal)
		snap.MemUsed = int64(memTotal - memAvail)
		snap.MemPct = 100 * float64(memTotal-memAvail) / float64(memTotal)
	}

	if rx, tx, err := readNetCounters(); err == nil {
		snap.NetRX = int64(rx)
		snap.NetTX = int64(tx)
	}
	if l1, err := readLoad1(); err == nil {
		snap.Load1 = l1
	}
	if up, err := readUptime(); err == nil {
		snap.UptimeSec = up
	}

	if cpuErr != nil && memErr != nil {
		return snap, errors.Join(cpuErr, memErr)
	}
	return snap, nil
}

// Disk reports filesystem usage for one mount point.
func (h *Host) Disk(path string) (DiskUsage, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return DiskUsage{}, err
	}
	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	du := DiskUsage{
		TotalBytes: int64(total),
		UsedBytes:  int64(total - free),
	}
	if total > 0 {
		du.UsedPct = 100 * float64(total-free) / float64(total)
	}
	return du, nil
}

func readCPUCounters() (total, idle uint64, err error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)[1:]
		if len(fields) < 5 {
			return 0, 0, errors.New("short cpu line in /proc/stat")
		}
		vals := make([]uint64, 0, len(fields))
		for _, fv := range fields {
			v, e := strconv.ParseUint(fv, 10, 64)
			if e != nil {
				return 0, 0, e
			}
			vals = append(vals, v)
			total += v
		}
		idle = vals[3] + vals[4] // idle + iowait
		return total, idle, nil
	}
	if err := s.Err(); err != nil {
		return 0, 0, err
	}
	return 0, 0, errors.New("cpu line not found in /proc/stat")
}

func readMeminfo() (total, available uint64, err error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseUint(fields[1], 10, 64)
			total *= 1024
		case "MemAvailable:":
			available, _ = strconv.ParseUint(fields[1], 10, 64)
			available *= 1024
		}
	}
	if total == 0 {
		return 0, 0, errors.New("meminfo parse failed")
	}
	return total, available, nil
}

func readNetCounters() (rx, tx uint64, err error) {
	f, err := os.Open("/proc/net/dev")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		iface, rest, found := strings.Cut(line, ":")
		if !found || strings.TrimSpace(iface) == "lo" {
			continue
		}
		vals := strings.Fields(rest)
		if len(vals) < 16 {
			continue
		}
		r, _ := strconv.ParseUint(vals[0], 10, 64)
		t, _ := strconv.ParseUint(vals[8], 10, 64)
		rx += r
		tx += t
	}
	return rx, tx, s.Err()
}

func readLoad1() (float64, error) {
	b, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(b))
	if len(fields) < 1 {
		return 0, errors.New("empty /proc/loadavg")
	}
	return strconv.ParseFloat(fields[0], 64)
}

func readUptime() (int64, error) {
	b, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0, errors.New("empty /proc/uptime")
	}
	f, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
