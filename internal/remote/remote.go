package remote

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Client is the capability the downloader needs from a remote storage service.
// Implementations are driven strictly sequentially: one login, one listing or one
// fetch at a time.
type Client interface {
	Name() string
	Login(ctx context.Context, link string) error
	Logout(ctx context.Context) error
	HasSession(ctx context.Context) (bool, error)
	List(ctx context.Context, link string) ([]*Entry, error)
	// Fetch streams the bytes of rng into w and returns how many bytes were written.
	Fetch(ctx context.Context, entry *Entry, rng ByteRange, w io.Writer) (int64, error)
	// TransferCap is the largest range the service serves in one transfer, 0 when unlimited.
	TransferCap() int64
}

// Entry is a file listed under a public link.
type Entry struct {
	ID   string
	Path string
	Size int64
}

type Session struct {
	ID        string
	Link      string
	Active    bool
	StartedAt time.Time
}

// ByteRange is a contiguous range of a remote file. A zero Length means "until EOF".
type ByteRange struct {
	Offset int64
	Length int64
}

// Whole returns the range spanning a file of the given size.
func Whole(size int64) ByteRange {
	return ByteRange{Offset: 0, Length: size}
}

func (r ByteRange) End() int64 {
	return r.Offset + r.Length
}

// IsWhole reports whether the range covers a file of the given size from its start.
func (r ByteRange) IsWhole(size int64) bool {
	return r.Offset == 0 && (r.Length == 0 || r.Length >= size)
}

func (r ByteRange) String() string {
	if r.Length == 0 {
		return fmt.Sprintf("bytes=%d-", r.Offset)
	}

	return fmt.Sprintf("bytes=%d-%d", r.Offset, r.End()-1)
}
