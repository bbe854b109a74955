package sshclient

import "fmt"

// ConnectError reports a failed connection or authentication attempt.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("connect %s: %v", e.Addr, e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// ListError reports an unreadable remote directory.
type ListError struct {
	Dir string
	Err error
}

func (e *ListError) Error() string { return fmt.Sprintf("list %s: %v", e.Dir, e.Err) }
func (e *ListError) Unwrap() error { return e.Err }

// TransferError reports a failed file download.
type TransferError struct {
	File string
	Err  error
}

func (e *TransferError) Error() string { return fmt.Sprintf("transfer %s: %v", e.File, e.Err) }
func (e *TransferError) Unwrap() error { return e.Err }
