package archive

import (
	"context"
	"fmt"
	"os"
)

// Open selects an archive.Store implementation using environment variables.
//
//	CYLTRACK_ARCHIVE_DRIVER: fs|s3|memory (default fs)
//	CYLTRACK_ARCHIVE_FS_ROOT: directory root when driver=fs (default ./archive)
//	(S3 specific variables documented in s3.go)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("CYLTRACK_ARCHIVE_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFS(os.Getenv("CYLTRACK_ARCHIVE_FS_ROOT"))
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", driver)
	}
}
