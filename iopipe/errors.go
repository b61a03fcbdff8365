package iopipe

import "errors"

// ErrMaxSizeExceeded is wrapped by a Codec's Decode error when a frame
// header claims more bytes than the codec's configured max size.
var ErrMaxSizeExceeded = errors.New("iopipe: frame exceeds max size")

// ErrClosed names the closed-connection condition. No IoState method
// returns it.
var ErrClosed = errors.New("iopipe: connection closed")
