package xrun

import "errors"

var (
	// ErrNilFunc Go/GoWithName 传入 nil 函数。
	ErrNilFunc = errors.New("xrun: nil function")

	// ErrNilServer HTTPServer 传入 nil 服务器。
	ErrNilServer = errors.New("xrun: nil server")

	// ErrNilListener HTTPServer 传入 nil listener。
	ErrNilListener = errors.New("xrun: nil listener")
)
