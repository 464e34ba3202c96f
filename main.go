package main

import "github.com/ValentinKolb/aibroker/cmd"

func main() {
	cmd.Execute()
}
