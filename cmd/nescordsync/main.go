// Package main provides the entry point for the nescordsync CLI.
package main

import (
	"os"

	"github.com/mhcp0001/NescordBot-sub000/cmd/nescordsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
