package collector

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"

	"github.com/vitalis-app/telemetry-agent/internal/models"
)

// ignoredFSTypes are virtual, in-memory and network filesystems that do not
// represent local storage.
var ignoredFSTypes = map[string]struct{}{}

func init() {
	for _, fs := range []string{
		// virtual / kernel
		"autofs", "binfmt_misc", "bpf", "cgroup", "cgroup2", "configfs", "debugfs",
		"devfs", "devtmpfs", "efivarfs", "fusectl", "hugetlbfs", "mqueue", "nsfs",
		"nullfs", "overlay", "proc", "procfs", "pstore", "ramfs", "securityfs",
		"squashfs", "sysfs", "tmpfs", "tracefs", "fuse.snapfuse",
		// network / remote
		"9p", "afs", "ceph", "cifs", "davfs2", "fuse.blobfuse", "fuse.ceph",
		"fuse.gcsfuse", "fuse.rclone", "fuse.s3fs", "fuse.sshfs", "glusterfs",
		"gpfs", "lustre", "ncpfs", "nfs", "nfs4", "pvfs2", "smbfs",
	} {
		ignoredFSTypes[fs] = struct{}{}
	}
}

// ignoredMountPrefixes are OS-internal volumes (macOS system and VM swap).
var ignoredMountPrefixes = []string{"/System/Volumes/", "/private/var/vm"}

// DiskCollector collects usage for each local mount point.
type DiskCollector struct {
	logger *zap.Logger
}

func NewDiskCollector(logger *zap.Logger) *DiskCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiskCollector{logger: logger}
}

func (c *DiskCollector) Name() string { return "disk" }

// Collect reports every local partition with a non-zero size. Partitions that
// cannot be queried are skipped.
func (c *DiskCollector) Collect(ctx context.Context) (Reading, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}

	var res DiskResult
	for _, p := range partitions {
		if skipPartition(p.Fstype, p.Mountpoint) {
			c.logger.Debug("Skipping partition",
				zap.String("mount", p.Mountpoint),
				zap.String("fstype", p.Fstype))
			continue
		}
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		res.Disks = append(res.Disks, models.DiskInfo{
			Mount: p.Mountpoint,
			Fs:    p.Fstype,
			Total: usage.Total,
			Used:  usage.Used,
			Free:  usage.Free,
		})
	}
	return res, nil
}

func (c *DiskCollector) IsAvailable() bool { return true }

func skipPartition(fstype, mount string) bool {
	if _, ok := ignoredFSTypes[fstype]; ok {
		return true
	}
	for _, prefix := range ignoredMountPrefixes {
		if strings.HasPrefix(mount, prefix) {
			return true
		}
	}
	return false
}
