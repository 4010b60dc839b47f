//go:build !govips || !cgo

package compose

func Startup() error {
	return nil
}

func Shutdown() {}
