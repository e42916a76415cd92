// Package main is the entry point for the metering daemon.
package main

func main() {
	Execute()
}
