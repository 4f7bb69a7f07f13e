//go:build !linux && !darwin

package main

func mountedDeviceFor(string) string {
	return ""
}
