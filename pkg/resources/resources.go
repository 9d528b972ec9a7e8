// Package resources reports host capacity for the worker's readiness and
// preflight checks.
package resources

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// DiskSpaceInfo contains disk space information
type DiskSpaceInfo struct {
	TotalMB     uint64
	AvailableMB uint64
	UsedMB      uint64
	UsedPercent float64
}

// MemoryInfo contains system memory information
type MemoryInfo struct {
	TotalMB     uint64
	AvailableMB uint64
	UsedPercent float64
}

const mb = 1024 * 1024

// CheckDiskSpace checks available disk space for a path
func CheckDiskSpace(path string) (*DiskSpaceInfo, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to check disk space: %w", err)
	}
	return &DiskSpaceInfo{
		TotalMB:     usage.Total / mb,
		AvailableMB: usage.Free / mb,
		UsedMB:      usage.Used / mb,
		UsedPercent: usage.UsedPercent,
	}, nil
}

// EnsureSufficientDiskSpace fails when path has less than requiredMB free
func EnsureSufficientDiskSpace(path string, requiredMB uint64) error {
	info, err := CheckDiskSpace(path)
	if err != nil {
		return err
	}
	if info.AvailableMB < requiredMB {
		return fmt.Errorf("insufficient disk space: need %d MB, available %d MB (%.1f%% used)",
			requiredMB, info.AvailableMB, info.UsedPercent)
	}
	return nil
}

// CheckMemory reports system memory
func CheckMemory() (*MemoryInfo, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to read memory stats: %w", err)
	}
	return &MemoryInfo{
		TotalMB:     vm.Total / mb,
		AvailableMB: vm.Available / mb,
		UsedPercent: vm.UsedPercent,
	}, nil
}
