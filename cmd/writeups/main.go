// Package main is the writeups executable.
package main

import "github.com/JakeFAU/writeup-search/cmd"

func main() {
	cmd.Execute()
}
