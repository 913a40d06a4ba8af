//go:build sc5511a && cgo

package sc5511a

/*
#cgo LDFLAGS: -lsc5511a
#include <stdlib.h>
#include <sc5511a.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

const success = 0

// usbDevice is a Device backed by the vendor shared library.
type usbDevice struct {
	handle *C.sc5511a_device_handle_t
}

// Open opens the synthesizer with the given serial number.
func Open(serial string) (Device, error) {
	cs := C.CString(serial)
	defer C.free(unsafe.Pointer(cs))
	h := C.sc5511a_open_device(cs)
	if h == nil {
		return nil, fmt.Errorf("%s: unable to open device %q", DeviceName, serial)
	}
	return &usbDevice{handle: h}, nil
}

func check(op string, code C.int) error {
	if code != success {
		return &StatusError{Op: op, Code: int(code)}
	}
	return nil
}

func cbool(b bool) C.uchar {
	if b {
		return 1
	}
	return 0
}

func (d *usbDevice) SetFrequency(hz uint64) error {
	return check("set_freq", C.sc5511a_set_freq(d.handle, C.ulonglong(hz)))
}

func (d *usbDevice) SetLevel(dbm float32) error {
	return check("set_level", C.sc5511a_set_level(d.handle, C.float(dbm)))
}

func (d *usbDevice) SetOutput(on bool) error {
	return check("set_output", C.sc5511a_set_output(d.handle, cbool(on)))
}

func (d *usbDevice) SetStandby(on bool) error {
	return check("set_standby", C.sc5511a_set_standby(d.handle, cbool(on)))
}

func (d *usbDevice) Temperature() (float32, error) {
	var t C.float
	if err := check("get_temperature", C.sc5511a_get_temperature(d.handle, &t)); err != nil {
		return 0, err
	}
	return float32(t), nil
}

func (d *usbDevice) RFParameters() (RFParams, error) {
	var p C.device_rf_params_t
	if err := check("get_rf_parameters", C.sc5511a_get_rf_parameters(d.handle, &p)); err != nil {
		return RFParams{}, err
	}
	return RFParams{
		Frequency: uint64(p.rf1_freq),
		Level:     float32(p.rf_level),
	}, nil
}

func (d *usbDevice) OperateStatus() (OperateStatus, error) {
	var s C.device_status_t
	if err := check("get_device_status", C.sc5511a_get_device_status(d.handle, &s)); err != nil {
		return OperateStatus{}, err
	}
	return OperateStatus{
		OutputEnabled: s.operate_status.rf1_out_enable != 0,
		Standby:       s.operate_status.rf1_standby != 0,
		OverTemp:      s.operate_status.over_temp != 0,
	}, nil
}

func (d *usbDevice) Close() error {
	if d.handle == nil {
		return nil
	}
	err := check("close_device", C.sc5511a_close_device(d.handle))
	d.handle = nil
	return err
}
