// Pairlinkctl: command-line client for the pairlink chat server.
package main

import "github.com/pairlink/pairlink/internal/pairlinkcli"

func main() {
	pairlinkcli.Main()
}
