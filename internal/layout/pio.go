package layout

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/cascadadb/cascadadb/internal/fs"
)

// preadFull and pwriteFull perform positional I/O on f's file descriptor
// via golang.org/x/sys/unix, so concurrent block reads/writes don't
// contend on a shared seek offset the way Seek+Read/Write would. This is
// the closest idiomatic Go analog to the original AIOFile's positional
// pread/pwrite (§6).
func pwriteFull(f fs.File, buf []byte, offset int64) error {
	fd := int(f.Fd())
	for len(buf) > 0 {
		n, err := unix.Pwrite(fd, buf, offset)
		if err != nil {
			return fmt.Errorf("pwrite: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("pwrite: short write at offset %d", offset)
		}
		buf = buf[n:]
		offset += int64(n)
	}
	return nil
}

func preadFull(f fs.File, buf []byte, offset int64) error {
	fd := int(f.Fd())
	for len(buf) > 0 {
		n, err := unix.Pread(fd, buf, offset)
		if err != nil {
			return fmt.Errorf("pread: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("pread: unexpected EOF at offset %d", offset)
		}
		buf = buf[n:]
		offset += int64(n)
	}
	return nil
}
