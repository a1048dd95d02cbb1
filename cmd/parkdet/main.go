package main

import "github.com/MeKo-Tech/parkdet/cmd/parkdet/cmd"

func main() {
	cmd.Execute()
}
