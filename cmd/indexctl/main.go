// indexctl runs backup, retention and alias jobs against an Elasticsearch
// cluster.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
