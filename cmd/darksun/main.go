package main

import (
	"github.com/darksunexists/darksun-sub000/cmd/cmd"
)

func main() {
	cmd.Execute()
}
