package main

import (
	"checkin-backend/cmd/checkind/cmd"
)

func main() {
	cmd.Execute()
}
