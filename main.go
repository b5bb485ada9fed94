package main

import "github.com/vibast-solutions/ms-go-tap-payments/cmd"

func main() {
	cmd.Execute()
}
