// The main package for the novel-crawler executable.
package main

import (
	"github.com/JakeFAU/novel-crawler/cmd"
)

func main() {
	cmd.Execute()
}
