package main

import (
	"os"

	"github.com/vladfaust/simularity/internal/ctl"
)

func main() {
	os.Exit(ctl.Main())
}
