//go:build !race

package mpsync

const raceEnabled = false
