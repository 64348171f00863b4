package checksum

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/afero"
)

// BlockSize is the read size used while hashing archive files.
const BlockSize = 64 * 1024

// Result is the outcome of verifying one file.
type Result struct {
	// Checked is false when the verifier does not compare checksums.
	Checked bool
	Match   bool
	Digest  []byte
	Bytes   int64
}

// Verifier compares the content of an archive file with the checksum the
// catalog recorded for it.
type Verifier interface {
	Verify(ctx context.Context, path string, expected []byte) (Result, error)
}

// Noop skips checksum verification entirely.
type Noop struct{}

var _ Verifier = Noop{}

func (Noop) Verify(context.Context, string, []byte) (Result, error) {
	return Result{}, nil
}

// MD5 hashes files the way the WFCatalog collector does: MD5 over the whole
// file, read in BlockSize blocks.
type MD5 struct {
	fs   afero.Fs
	bufs sync.Pool
}

var _ Verifier = (*MD5)(nil)

func NewMD5(fs afero.Fs) *MD5 {
	return &MD5{
		fs: fs,
		bufs: sync.Pool{New: func() any {
			b := make([]byte, BlockSize)
			return &b
		}},
	}
}

// Sum returns the MD5 digest of the file at path and the number of bytes read.
func (m *MD5) Sum(ctx context.Context, path string) ([]byte, int64, error) {
	f, err := m.fs.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening: %w", err)
	}
	defer f.Close()

	buf := m.bufs.Get().(*[]byte)
	defer m.bufs.Put(buf)

	h := md5.New()
	n, err := io.CopyBuffer(h, ctxReader{ctx: ctx, r: f}, *buf)
	if err != nil {
		return nil, n, fmt.Errorf("reading: %w", err)
	}
	return h.Sum(nil), n, nil
}

func (m *MD5) Verify(ctx context.Context, path string, expected []byte) (Result, error) {
	digest, n, err := m.Sum(ctx, path)
	if err != nil {
		return Result{Bytes: n}, err
	}
	return Result{
		Checked: true,
		Match:   bytes.Equal(digest, expected),
		Digest:  digest,
		Bytes:   n,
	}, nil
}

// ctxReader stops a long read once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
