// Command harmony crawls a music catalog into a relational store and serves
// reports over the results.
package main

import (
	"github.com/JakeFAU/harmony-crawler/cmd"
)

func main() {
	cmd.Execute()
}
