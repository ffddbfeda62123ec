package main

import (
	"github.com/ColonelBlimp/stimcore/cmd"
	"github.com/ColonelBlimp/stimcore/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
