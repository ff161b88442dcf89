//go:build !linux

package mpsync

var defaultParkingLot = NewParkingLot()

// Futex returns the process-wide ParkingLot on platforms without futex(2).
func Futex() WaitWaker {
	return defaultParkingLot
}
