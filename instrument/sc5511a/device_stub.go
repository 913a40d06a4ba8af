//go:build !sc5511a || !cgo

package sc5511a

import "fmt"

// Open is unavailable without the vendor library.
func Open(serial string) (Device, error) {
	return nil, fmt.Errorf("%s: built without vendor library support, rebuild with -tags sc5511a", DeviceName)
}
