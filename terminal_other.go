//go:build !windows

package main

func enableTerminalStatus() bool { return true }
