package main

import (
	"github.com/ColonelBlimp/alarmwatch/cmd"
	"github.com/ColonelBlimp/alarmwatch/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
