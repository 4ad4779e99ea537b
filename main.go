// The main package for the certpull executable.
package main

import "github.com/certpull/certpull/cmd"

func main() {
	cmd.Execute()
}
