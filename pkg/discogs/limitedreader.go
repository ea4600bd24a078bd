// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package discogs

import (
	"io"
)

// LimitReader returns a Reader that reads from r
// but stops with err once more than n bytes are requested.
// The underlying implementation is a *LimitedReader.
func LimitReader(r io.Reader, n int64, err error) io.Reader { return &LimitedReader{r, n, err} }

// A LimitedReader reads from R but limits the amount of
// data returned to just N bytes. Each call to Read
// updates N to reflect the new amount remaining.
// Read returns EOF when the underlying R returns EOF within the limit,
// and Err when R still has data after N bytes.
type LimitedReader struct {
	R   io.Reader // underlying reader
	N   int64     // max bytes remaining
	Err error     // the error to return when the limit is crossed
}

func (l *LimitedReader) Read(p []byte) (n int, err error) {
	if l.N <= 0 {
		// Probe one byte so a body of exactly N bytes still ends in EOF.
		var probe [1]byte
		pn, perr := l.R.Read(probe[:])
		if pn > 0 {
			return 0, l.Err
		}
		return 0, perr
	}
	if int64(len(p)) > l.N {
		p = p[0:l.N]
	}
	n, err = l.R.Read(p)
	l.N -= int64(n)
	return
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}
